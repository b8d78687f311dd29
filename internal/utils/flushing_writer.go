package utils

import "io"

type flushableWriter interface {
	Flush() error
}

type flushingWriter struct {
	delegate io.Writer
}

// NewFlushingWriter wraps the provided writer so every write is flushed when supported.
func NewFlushingWriter(delegate io.Writer) io.Writer {
	return flushingWriter{delegate: delegate}
}

// Write forwards the payload and flushes writers that expose a Flush method.
func (writer flushingWriter) Write(payload []byte) (int, error) {
	bytesWritten, writeError := writer.delegate.Write(payload)
	if writeError != nil {
		return bytesWritten, writeError
	}
	if flusher, flushSupported := writer.delegate.(flushableWriter); flushSupported {
		if flushError := flusher.Flush(); flushError != nil {
			return bytesWritten, flushError
		}
	}
	return bytesWritten, nil
}
