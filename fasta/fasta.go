// Package fasta implements a memory-bounded, batching reader for the
// archive's FASTA wire format, plus the record-writing convention
// shared by the compile pipeline and the search and simulate commands.
package fasta

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Record is one (header, sequence) FASTA entry. Sequence has already
// had any multi-line wrapping concatenated and whitespace trimmed.
type Record struct {
	Header   string
	Sequence string
}

// BatchReader produces batches of Records from an underlying line
// stream, flushing a batch once either maxItems records or maxBytes of
// estimated content have accumulated. A record that straddles a batch
// boundary is carried forward as internal pending state.
type BatchReader struct {
	scanner *bufio.Scanner

	maxItems int
	maxBytes int

	pendingHeader string
	hasPending    bool
	pendingSeq    strings.Builder
	exhausted     bool
}

// NewBatchReader wraps r with a line scanner and the given batch caps.
func NewBatchReader(r io.Reader, maxItems, maxBytes int) *BatchReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &BatchReader{
		scanner:  scanner,
		maxItems: maxItems,
		maxBytes: maxBytes,
	}
}

// Next returns the next batch of records. It returns io.EOF (with a
// nil, possibly-empty batch already delivered on a prior call) once
// the stream and any pending record have been fully drained.
func (br *BatchReader) Next() ([]Record, error) {
	if br.exhausted {
		return nil, io.EOF
	}

	var batch []Record
	batchBytes := 0

	flushPending := func() {
		if br.hasPending {
			seq := br.pendingSeq.String()
			if seq != "" {
				batch = append(batch, Record{Header: br.pendingHeader, Sequence: seq})
				batchBytes += len(br.pendingHeader) + len(seq) + 48
			}
			br.hasPending = false
			br.pendingSeq.Reset()
		}
	}

	for {
		if len(batch) > 0 && (len(batch) >= br.maxItems || batchBytes >= br.maxBytes) {
			return batch, nil
		}

		if !br.scanner.Scan() {
			if err := br.scanner.Err(); err != nil {
				return nil, fmt.Errorf("fasta: read: %w", err)
			}
			br.exhausted = true
			flushPending()
			if len(batch) == 0 {
				return nil, io.EOF
			}
			return batch, nil
		}

		line := strings.TrimSpace(br.scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, ">") {
			flushPending()
			br.pendingHeader = line
			br.hasPending = true
			br.pendingSeq.Reset()
		} else if br.hasPending {
			br.pendingSeq.WriteString(line)
		}
		// A sequence line with no preceding header is discarded.
	}
}

// WriteRecord writes one FASTA record as two lines: the header, then
// the sequence.
func WriteRecord(w io.Writer, header, sequence string) error {
	if _, err := fmt.Fprintf(w, "%s\n%s\n", header, sequence); err != nil {
		return fmt.Errorf("fasta: write record: %w", err)
	}
	return nil
}
