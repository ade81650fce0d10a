package worker

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"github.com/casparianflow/sentinel/internal/classify"
	"github.com/casparianflow/sentinel/internal/logger"
	"github.com/casparianflow/sentinel/internal/protocol"
)

// maxErrorTailBytes caps the stderr tail carried on a failure JobReceipt,
// matching the other_examples dispatcher's maxStderrBytes cap.
const maxErrorTailBytes = 16 * 1024

// demux enforces the Parser I/O Protocol (spec §4.3, §6.3): it reads the
// subprocess's stderr as NDJSON control frames (exactly one hello first,
// output_begin/output_end pairs bounding stdout byte ranges, optional
// progress/quarantine/warn frames between) and forwards the concatenated
// stdout bytes for each open output to its declared sink. It does not parse
// the columnar bytes themselves — Arrow/Parquet/DuckDB decoding is an
// external collaborator's concern per spec §1.
type demux struct {
	log            *logger.Logger
	expectedSchema map[string]string
	openSink       SinkOpener
	sinkByName     map[string]protocol.SinkConfig

	mu            sync.Mutex
	current       io.WriteCloser
	currentOutput string
	open          map[string]bool
	metrics       map[string]int64
	quarantine    int64
	tail          *tailBuffer
	sawHello      bool
	violationErr    error
	violationReason classify.Reason
}

func newDemux(log *logger.Logger, expectedSchema map[string]string, openSink SinkOpener, sinks []protocol.SinkConfig) *demux {
	byName := make(map[string]protocol.SinkConfig, len(sinks))
	for _, s := range sinks {
		byName[s.OutputName] = s
	}
	return &demux{
		log:            log,
		expectedSchema: expectedSchema,
		openSink:       openSink,
		sinkByName:     byName,
		open:           make(map[string]bool),
		metrics:        make(map[string]int64),
		tail:           newTailBuffer(maxErrorTailBytes),
	}
}

// run blocks until both the stderr control stream and the stdout data
// stream reach EOF.
func (d *demux) run(stdout, stderr io.Reader) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		d.readControl(stderr)
	}()
	go func() {
		defer wg.Done()
		d.readData(stdout)
	}()
	wg.Wait()
}

func (d *demux) readControl(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		d.tail.Write(line)
		d.tail.Write([]byte("\n"))

		frameType, frame, err := protocol.ParseParserFrame(line)
		if err != nil {
			d.fail(classify.KindProtocol, classify.ReasonProtocolViolate, fmt.Errorf("parser io: %w", err))
			continue
		}
		if first {
			first = false
			if frameType != protocol.ParserFrameHello {
				d.fail(classify.KindProtocol, classify.ReasonProtocolViolate, fmt.Errorf("parser io: first frame must be hello, got %s", frameType))
				continue
			}
			d.mu.Lock()
			d.sawHello = true
			d.mu.Unlock()
			continue
		}
		switch v := frame.(type) {
		case protocol.ParserOutputBegin:
			d.handleBegin(v)
		case protocol.ParserOutputEnd:
			d.handleEnd(v)
		case protocol.ParserQuarantine:
			d.mu.Lock()
			d.quarantine += v.Count
			d.mu.Unlock()
		case protocol.ParserProgress:
			d.log.Debug("parser progress", "output", v.Output, "message", v.Message, "percent", v.Percent)
		case protocol.ParserWarn:
			d.log.Warn("parser warning", "message", v.Message)
		case protocol.ParserHello:
			d.fail(classify.KindProtocol, classify.ReasonProtocolViolate, fmt.Errorf("parser io: hello frame received after stream start"))
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current != nil {
		d.current.Close()
		d.current = nil
	}
	for name := range d.open {
		d.failLocked(classify.KindProtocol, classify.ReasonProtocolViolate, fmt.Errorf("parser io: output %q never closed", name))
	}
}

func (d *demux) handleBegin(v protocol.ParserOutputBegin) {
	if expected, ok := d.expectedSchema[v.Output]; ok && expected != v.SchemaHash {
		d.fail(classify.KindSchemaMismatch, classify.ReasonProtocolViolate, fmt.Errorf("schema hash mismatch for output %q: expected %s, got %s", v.Output, expected, v.SchemaHash))
		return
	}
	cfg, ok := d.sinkByName[v.Output]
	if !ok {
		d.fail(classify.KindSinkError, classify.ReasonProtocolViolate, fmt.Errorf("no sink configured for output %q", v.Output))
		return
	}
	w, err := d.openSink(cfg)
	if err != nil {
		d.fail(classify.KindSinkError, classify.ReasonProtocolViolate, fmt.Errorf("open sink for output %q: %w", v.Output, err))
		return
	}
	writer, err := w.Open(v.Output, v.SchemaHash)
	if err != nil {
		d.fail(classify.KindSinkError, classify.ReasonProtocolViolate, fmt.Errorf("open sink writer for output %q: %w", v.Output, err))
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current != nil {
		d.failLocked(classify.KindProtocol, classify.ReasonProtocolViolate, fmt.Errorf("output_begin for %q received while %q is still open", v.Output, d.currentOutput))
		return
	}
	d.current = writer
	d.currentOutput = v.Output
	d.open[v.Output] = true
}

func (d *demux) handleEnd(v protocol.ParserOutputEnd) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil || d.currentOutput != v.Output {
		d.failLocked(classify.KindProtocol, classify.ReasonProtocolViolate, fmt.Errorf("output_end for %q does not match open output %q", v.Output, d.currentOutput))
		return
	}
	if err := d.current.Close(); err != nil {
		d.failLocked(classify.KindSinkError, classify.ReasonProtocolViolate, fmt.Errorf("close sink for output %q: %w", v.Output, err))
	}
	d.metrics[v.Output] = v.RowsEmitted
	delete(d.open, v.Output)
	d.current = nil
	d.currentOutput = ""
}

func (d *demux) readData(stdout io.Reader) {
	buf := make([]byte, 32*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			d.mu.Lock()
			w := d.current
			d.mu.Unlock()
			if w == nil {
				d.fail(classify.KindProtocol, classify.ReasonProtocolViolate, fmt.Errorf("parser io: %d stdout bytes received outside an output boundary", n))
			} else if _, werr := w.Write(buf[:n]); werr != nil {
				d.fail(classify.KindSinkError, classify.ReasonProtocolViolate, fmt.Errorf("sink write failed: %w", werr))
			}
		}
		if err != nil {
			return
		}
	}
}

func (d *demux) fail(kind classify.Kind, reason classify.Reason, cause error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failLocked(kind, reason, cause)
}

func (d *demux) failLocked(kind classify.Kind, reason classify.Reason, cause error) {
	if d.violationErr != nil {
		return
	}
	d.log.Error("parser io violation", "kind", kind, "reason", reason, "error", cause)
	d.violationErr = cause
	d.violationReason = reason
}

// buildReceipt assembles the final JobReceipt once the subprocess has
// exited and both I/O goroutines have drained, per spec §4.3's exit rule:
// zero exit + matched begin/end pairs -> success; anything else -> failure
// with the stderr tail as error_message. error_kind carries a
// classify.Reason (not a classify.Kind) since that is what the Sentinel's
// retry decision keys off of.
func (d *demux) buildReceipt(exitErr error) protocol.JobReceipt {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.violationErr != nil {
		return protocol.JobReceipt{
			Status:         protocol.ReceiptFailure,
			Error:          d.violationErr.Error(),
			ErrorKind:      string(d.violationReason),
			QuarantineRows: d.quarantine,
		}
	}
	if !d.sawHello {
		return protocol.JobReceipt{
			Status:    protocol.ReceiptFailure,
			Error:     "parser io: subprocess produced no hello frame",
			ErrorKind: string(classify.ReasonProtocolViolate),
		}
	}
	if exitErr != nil {
		return protocol.JobReceipt{
			Status:         protocol.ReceiptFailure,
			Error:          fmt.Sprintf("subprocess exited with error: %v\n%s", exitErr, d.tail.String()),
			ErrorKind:      string(classify.ReasonNonZeroExit),
			QuarantineRows: d.quarantine,
		}
	}

	metrics := make(map[string]int64, len(d.metrics)+1)
	var totalRows int64
	for name, rows := range d.metrics {
		metrics[name+"_rows"] = rows
		totalRows += rows
	}
	metrics["rows"] = totalRows

	outputs := make([]string, 0, len(d.metrics))
	for name := range d.metrics {
		outputs = append(outputs, name)
	}

	return protocol.JobReceipt{
		Status:         protocol.ReceiptSuccess,
		Metrics:        metrics,
		Artifacts:      outputs,
		QuarantineRows: d.quarantine,
	}
}
