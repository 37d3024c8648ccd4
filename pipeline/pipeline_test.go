package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"log/slog"
	"math/rand/v2"
	"strings"
	"testing"

	"helix.dev/codec/archiveerr"
	"helix.dev/codec/dna"
)

func randomPayload(n int, seed uint64) []byte {
	rng := rand.New(rand.NewPCG(seed, seed^0xabcdef))
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(rng.IntN(256))
	}
	return buf
}

func TestCompileRestoreRoundTripVariousSizes(t *testing.T) {
	sizes := []int{0, 1, 4*1024*1024 - 1, 4 * 1024 * 1024, 4*1024*1024 + 1}

	for _, size := range sizes {
		payload := randomPayload(size, uint64(size)+1)

		var archive bytes.Buffer
		cfg := CompileConfig{Tag: "default", DataShards: 6, ParityShards: 3, Jobs: 2}
		if _, err := Compile(bytes.NewReader(payload), &archive, cfg, nil); err != nil {
			t.Fatalf("size=%d Compile: %v", size, err)
		}

		var restored bytes.Buffer
		rcfg := RestoreConfig{Tag: "default", DataShards: 6, ParityShards: 3, Jobs: 2}
		if _, err := Restore(bytes.NewReader(archive.Bytes()), &restored, rcfg, nil); err != nil {
			t.Fatalf("size=%d Restore: %v", size, err)
		}

		if !bytes.Equal(restored.Bytes(), payload) {
			t.Fatalf("size=%d: restored output does not match original (got %d bytes, want %d)", size, restored.Len(), len(payload))
		}
	}
}

func TestErasureToleranceUpToKMissingShards(t *testing.T) {
	payload := randomPayload(500*1024, 7)

	var archive bytes.Buffer
	cfg := CompileConfig{Tag: "default", DataShards: 10, ParityShards: 5, Jobs: 0}
	if _, err := Compile(bytes.NewReader(payload), &archive, cfg, nil); err != nil {
		t.Fatalf("Compile: %v", err)
	}

	records := splitFastaRecords(t, archive.String())
	if len(records)%15 != 0 {
		t.Fatalf("expected a multiple of 15 shards, got %d", len(records))
	}

	var erased bytes.Buffer
	for i, rec := range records {
		if i%3 == 0 {
			continue
		}
		erased.WriteString(rec)
	}

	var restored bytes.Buffer
	rcfg := RestoreConfig{Tag: "default", DataShards: 10, ParityShards: 5, Jobs: 0}
	if _, err := Restore(&erased, &restored, rcfg, nil); err != nil {
		t.Fatalf("Restore after erasure: %v", err)
	}
	if !bytes.Equal(restored.Bytes(), payload) {
		t.Fatalf("restored output does not match original after erasing every third shard")
	}
}

func TestMutationRecoveryViaViterbi(t *testing.T) {
	payload := randomPayload(64*1024, 99)

	var archive bytes.Buffer
	cfg := CompileConfig{Tag: "default", DataShards: 6, ParityShards: 3, Jobs: 0}
	if _, err := Compile(bytes.NewReader(payload), &archive, cfg, nil); err != nil {
		t.Fatalf("Compile: %v", err)
	}

	records := splitFastaRecords(t, archive.String())
	var mutated bytes.Buffer
	for _, rec := range records {
		lines := strings.SplitN(strings.TrimRight(rec, "\n"), "\n", 2)
		if len(lines) != 2 {
			mutated.WriteString(rec)
			continue
		}
		header, seq := lines[0], lines[1]
		boundary := len(seq) / 4
		interior := boundary + len(seq)/2
		flipped := []byte(seq)
		original := flipped[interior]
		for _, c := range []byte{'A', 'C', 'G', 'T'} {
			if c != original {
				flipped[interior] = c
				break
			}
		}
		mutated.WriteString(header + "\n" + string(flipped) + "\n")
	}

	var restored bytes.Buffer
	rcfg := RestoreConfig{Tag: "default", DataShards: 6, ParityShards: 3, Jobs: 0}
	if _, err := Restore(&mutated, &restored, rcfg, nil); err != nil {
		t.Fatalf("Restore after single-base mutation per strand: %v", err)
	}
	if !bytes.Equal(restored.Bytes(), payload) {
		t.Fatalf("restored output does not match original after single-base mutations")
	}
}

func TestWrongPasswordFailsAuthentication(t *testing.T) {
	payload := randomPayload(1024, 5)

	var archive bytes.Buffer
	cfg := CompileConfig{Tag: "default", DataShards: 4, ParityShards: 2, Password: "correct horse", Jobs: 1}
	if _, err := Compile(bytes.NewReader(payload), &archive, cfg, nil); err != nil {
		t.Fatalf("Compile: %v", err)
	}

	var restored bytes.Buffer
	rcfg := RestoreConfig{Tag: "default", DataShards: 4, ParityShards: 2, Password: "wrong password", Jobs: 1}
	_, err := Restore(bytes.NewReader(archive.Bytes()), &restored, rcfg, nil)
	if err == nil {
		t.Fatalf("expected authentication failure with wrong password")
	}
	code, ok := archiveerr.CodeOf(err)
	if !ok || code != archiveerr.AEAD {
		t.Fatalf("expected AEAD error code, got %v (ok=%v)", code, ok)
	}
}

func TestPrimerMismatchIsolation(t *testing.T) {
	payload := randomPayload(4096, 11)

	var archive bytes.Buffer
	cfg := CompileConfig{Tag: "project-x", DataShards: 4, ParityShards: 2, Jobs: 1}
	if _, err := Compile(bytes.NewReader(payload), &archive, cfg, nil); err != nil {
		t.Fatalf("Compile: %v", err)
	}

	var restored bytes.Buffer
	rcfg := RestoreConfig{Tag: "archive-y", DataShards: 4, ParityShards: 2, Jobs: 1}
	_, err := Restore(bytes.NewReader(archive.Bytes()), &restored, rcfg, nil)
	if err == nil {
		t.Fatalf("expected no-match error restoring with an unrelated tag")
	}
	code, ok := archiveerr.CodeOf(err)
	if !ok || code != archiveerr.NoMatch {
		t.Fatalf("expected NoMatch error code, got %v (ok=%v)", code, ok)
	}
	if restored.Len() != 0 {
		t.Fatalf("expected no partial output, got %d bytes", restored.Len())
	}
}

func TestBlockOrderingIndependence(t *testing.T) {
	payload := randomPayload(12*1024*1024, 3)

	var archive bytes.Buffer
	cfg := CompileConfig{Tag: "default", DataShards: 6, ParityShards: 3, Jobs: 2}
	if _, err := Compile(bytes.NewReader(payload), &archive, cfg, nil); err != nil {
		t.Fatalf("Compile: %v", err)
	}

	records := splitFastaRecords(t, archive.String())

	// Group shards by block id, reverse the block order, keep shard
	// order within each block intact.
	blocks := make(map[string][]string)
	var blockOrder []string
	for _, rec := range records {
		id := blockIDFromRecord(rec)
		if _, ok := blocks[id]; !ok {
			blockOrder = append(blockOrder, id)
		}
		blocks[id] = append(blocks[id], rec)
	}

	var reordered bytes.Buffer
	for i := len(blockOrder) - 1; i >= 0; i-- {
		for _, rec := range blocks[blockOrder[i]] {
			reordered.WriteString(rec)
		}
	}

	var restored bytes.Buffer
	rcfg := RestoreConfig{Tag: "default", DataShards: 6, ParityShards: 3, Jobs: 2}
	if _, err := Restore(&reordered, &restored, rcfg, nil); err != nil {
		t.Fatalf("Restore with reverse block order: %v", err)
	}
	if !bytes.Equal(restored.Bytes(), payload) {
		t.Fatalf("restored output does not match original with reverse block order")
	}
}

func splitFastaRecords(t *testing.T, fastaText string) []string {
	t.Helper()
	var records []string
	scanner := bufio.NewScanner(strings.NewReader(fastaText))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var current strings.Builder
	lines := 0
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, ">") && lines > 0 {
			records = append(records, current.String())
			current.Reset()
			lines = 0
		}
		current.WriteString(line)
		current.WriteByte('\n')
		lines++
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan fasta text: %v", err)
	}
	if current.Len() > 0 {
		records = append(records, current.String())
	}
	return records
}

func blockIDFromRecord(rec string) string {
	header := strings.SplitN(rec, "\n", 2)[0]
	underscore := strings.IndexByte(header, '_')
	if underscore < 0 {
		return header
	}
	return header[:underscore]
}

func TestSplitFastaRecordsHelperSanity(t *testing.T) {
	sample := ">blk0_s0\nACGT\n>blk0_s1\nTTTT\n"
	records := splitFastaRecords(t, sample)
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
}

// TestProtectedShardCRCDetectsSingleBitFlip exercises the exact check
// parseStrand's tryDecodePayload performs: a CRC32 computed over the
// shard body must match the CRC32 prepended to it. Flipping a single
// bit anywhere in the protected shard payload must break that match.
func TestProtectedShardCRCDetectsSingleBitFlip(t *testing.T) {
	shard := []byte("this is a representative shard of protected payload bytes")
	crc := crc32.ChecksumIEEE(shard)
	protected := make([]byte, 4+len(shard))
	binary.BigEndian.PutUint32(protected, crc)
	copy(protected[4:], shard)

	for bit := 0; bit < 8; bit++ {
		corrupted := append([]byte(nil), protected...)
		corrupted[4+10] ^= 1 << bit

		providedCRC := binary.BigEndian.Uint32(corrupted[:4])
		actual := corrupted[4:]
		if crc32.ChecksumIEEE(actual) == providedCRC {
			t.Fatalf("bit %d: expected CRC mismatch after single-bit flip, got match", bit)
		}
	}
}

// capturingHandler is a minimal slog.Handler that records every log
// record it receives, so a test can assert a specific message/level
// was emitted without depending on stderr formatting.
type capturingHandler struct {
	records []slog.Record
}

func (h *capturingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *capturingHandler) Handle(_ context.Context, r slog.Record) error {
	h.records = append(h.records, r)
	return nil
}

func (h *capturingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *capturingHandler) WithGroup(string) slog.Handler      { return h }

func (h *capturingHandler) hasWarnContaining(substr string) bool {
	for _, r := range h.records {
		if r.Level == slog.LevelWarn && strings.Contains(r.Message, substr) {
			return true
		}
	}
	return false
}

func forceAlwaysUnstable(t *testing.T) {
	t.Helper()
	prev := analyzeStability
	analyzeStability = func(string) dna.StabilityReport {
		return dna.StabilityReport{GCPercent: 0, MeltingTemp: 0, IsStable: false}
	}
	t.Cleanup(func() { analyzeStability = prev })
}

// TestStabilityExhaustionFailsWithoutForce drives the retry loop to
// maxStabilityRetries on a block that is always reported unstable, and
// asserts Compile fails with a Stability error rather than committing.
func TestStabilityExhaustionFailsWithoutForce(t *testing.T) {
	forceAlwaysUnstable(t)

	payload := randomPayload(1024, 42)
	var archive bytes.Buffer
	var attempts int
	cfg := CompileConfig{
		Tag: "default", DataShards: 4, ParityShards: 2, Jobs: 1,
		Progress: func(ev ProgressEvent) { attempts = ev.Attempt },
	}

	_, err := Compile(bytes.NewReader(payload), &archive, cfg, nil)
	if err == nil {
		t.Fatalf("expected stability failure without --force")
	}
	code, ok := archiveerr.CodeOf(err)
	if !ok || code != archiveerr.Stability {
		t.Fatalf("expected Stability error code, got %v (ok=%v)", code, ok)
	}
	if attempts != maxStabilityRetries {
		t.Fatalf("attempts = %d, want %d", attempts, maxStabilityRetries)
	}
}

// TestStabilityExhaustionCommitsWithForce mirrors the scenario above
// but with Force set: Compile must succeed, log a warning, and still
// produce a restorable archive.
func TestStabilityExhaustionCommitsWithForce(t *testing.T) {
	forceAlwaysUnstable(t)

	payload := randomPayload(2048, 43)
	var archive bytes.Buffer
	handler := &capturingHandler{}
	logger := slog.New(handler)

	var lastUnstable int
	cfg := CompileConfig{
		Tag: "default", DataShards: 4, ParityShards: 2, Jobs: 1, Force: true,
		Progress: func(ev ProgressEvent) { lastUnstable = ev.Unstable },
	}

	stats, err := Compile(bytes.NewReader(payload), &archive, cfg, logger)
	if err != nil {
		t.Fatalf("Compile with --force: %v", err)
	}
	if stats.Blocks != 1 {
		t.Fatalf("Blocks = %d, want 1", stats.Blocks)
	}
	if lastUnstable == 0 {
		t.Fatalf("expected the committed attempt to report unstable strands")
	}
	if !handler.hasWarnContaining("unstable") {
		t.Fatalf("expected a warning log mentioning unstable strands")
	}

	var restored bytes.Buffer
	rcfg := RestoreConfig{Tag: "default", DataShards: 4, ParityShards: 2, Jobs: 1}
	if _, err := Restore(bytes.NewReader(archive.Bytes()), &restored, rcfg, nil); err != nil {
		t.Fatalf("Restore forced archive: %v", err)
	}
	if !bytes.Equal(restored.Bytes(), payload) {
		t.Fatalf("restored output does not match original after forced commit")
	}
}
