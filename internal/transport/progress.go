package transport

import "io"

// Percent converts a byte count into a 0..100 percentage of total. An
// unknown or zero total reports 0.
func Percent(current, total int64) int {
	if total <= 0 || current <= 0 {
		return 0
	}
	if current >= total {
		return 100
	}
	return int(current * 100 / total)
}

// NopProgress is a ProgressSink that discards updates.
type NopProgress struct{}

func (NopProgress) SetValue(int) {}
func (NopProgress) Finish()      {}

// OrNop returns sink, or a NopProgress when sink is nil.
func OrNop(sink ProgressSink) ProgressSink {
	if sink == nil {
		return NopProgress{}
	}
	return sink
}

// ProgressReader wraps a reader and reports the percentage of total read so
// far. Updates are only sent when the percentage changes.
type ProgressReader struct {
	reader  io.Reader
	sink    ProgressSink
	current int64
	total   int64
	last    int
}

// NewProgressReader wraps r, reporting into sink against the declared total.
func NewProgressReader(r io.Reader, total int64, sink ProgressSink) *ProgressReader {
	return &ProgressReader{reader: r, sink: OrNop(sink), total: total, last: -1}
}

func (pr *ProgressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	if n > 0 {
		pr.current += int64(n)
		pr.report()
	}
	return n, err
}

// Count returns the number of bytes read so far.
func (pr *ProgressReader) Count() int64 {
	return pr.current
}

func (pr *ProgressReader) report() {
	if v := Percent(pr.current, pr.total); v != pr.last {
		pr.last = v
		pr.sink.SetValue(v)
	}
}

// ProgressWriter wraps a writer and reports the percentage of total written.
type ProgressWriter struct {
	writer  io.Writer
	sink    ProgressSink
	current int64
	total   int64
	last    int
}

// NewProgressWriter wraps w, reporting into sink against the declared total.
func NewProgressWriter(w io.Writer, total int64, sink ProgressSink) *ProgressWriter {
	return &ProgressWriter{writer: w, sink: OrNop(sink), total: total, last: -1}
}

func (pw *ProgressWriter) Write(p []byte) (n int, err error) {
	n, err = pw.writer.Write(p)
	if n > 0 {
		pw.current += int64(n)
		if v := Percent(pw.current, pw.total); v != pw.last {
			pw.last = v
			pw.sink.SetValue(v)
		}
	}
	return n, err
}
