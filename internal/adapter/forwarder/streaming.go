package forwarder

import (
	"io"
	"net/http"
)

// copyBuffered streams src into w using buf as scratch space, flushing
// after every chunk when the ResponseWriter supports it so token-by-
// token upstream output reaches the client without batching delay.
func copyBuffered(w http.ResponseWriter, src io.Reader, buf []byte) (int64, error) {
	flusher, canFlush := w.(http.Flusher)

	var written int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			nw, writeErr := w.Write(buf[:n])
			written += int64(nw)
			if writeErr != nil {
				return written, writeErr
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return written, nil
			}
			return written, readErr
		}
	}
}
