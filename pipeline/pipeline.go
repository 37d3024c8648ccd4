// Package pipeline orchestrates the full compile (archive) and restore
// (recover) flows: chunked compression, two-tier key derivation and
// AEAD encryption, Reed-Solomon sharding, stability-gated DNA
// transcoding, and the streaming, order-independent shard aggregator
// that reconstructs the original bytes.
package pipeline

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"sort"

	"github.com/klauspost/compress/zstd"

	"helix.dev/codec/archiveerr"
	"helix.dev/codec/dna"
	"helix.dev/codec/fasta"
	"helix.dev/codec/kdf"
	"helix.dev/codec/oligo"
	"helix.dev/codec/redundancy"
	"helix.dev/codec/workpool"
)

// streamingChunkSize is the amount of input data compressed, encrypted
// and erasure-coded as one block.
const streamingChunkSize = 4 * 1024 * 1024

// maxStabilityRetries bounds the salt-rotation retry loop compile runs
// when a block's DNA comes out biologically unstable.
const maxStabilityRetries = 5

// blockHeaderLen is the size, in bytes, of the fixed block record
// prefix: OrigLen(8) EncLen(8) GlobalSalt(16) BlockSalt(16) Nonce(12).
const blockHeaderLen = 8 + 8 + 16 + 16 + 12

// analyzeStability is a var seam so tests can force the stability
// predicate without needing to construct a naturally GC-extreme
// payload (encrypted/compressed content doesn't land reliably outside
// the 40-60% GC band on demand).
var analyzeStability = dna.AnalyzeStability

// countingReader tracks the number of bytes pulled from the underlying
// reader, independent of whether any of them parsed as a FASTA record.
type countingReader struct {
	r     io.Reader
	bytes int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.bytes += int64(n)
	return n, err
}

// CompileConfig parameterizes one archive run.
type CompileConfig struct {
	Tag       string
	PrimerFwd string
	PrimerRev string
	Password  string

	DataShards   int
	ParityShards int

	// Force demotes an exhausted stability-retry loop from a fatal
	// error to a warning, committing the block's DNA as-is.
	Force bool

	// Jobs selects the workpool size for per-shard work. 0 = auto.
	Jobs int

	// Progress, if non-nil, is called once per compile attempt (including
	// retried attempts) so a caller can render a live progress line.
	Progress func(ProgressEvent)
}

// RestoreConfig parameterizes one restore run.
type RestoreConfig struct {
	Tag       string
	PrimerFwd string
	PrimerRev string
	Password  string

	DataShards   int
	ParityShards int

	Jobs int

	// Progress, if non-nil, is called once per recovered block.
	Progress func(ProgressEvent)
}

// Stats summarizes one Compile or Restore run.
type Stats struct {
	TotalBytes   uint64
	EncodedBytes uint64
	Blocks       int
}

// ProgressEvent reports one step of a compile or restore run: a single
// block attempt (compile) or a single recovered block (restore).
type ProgressEvent struct {
	BlockID   uint32
	Bytes     int
	GCPercent float64
	MeltingC  float64
	Attempt   int
	Unstable  int
}

func reportProgress(fn func(ProgressEvent), ev ProgressEvent) {
	if fn != nil {
		fn(ev)
	}
}

type shardCompileResult struct {
	Header      string
	Sequence    string
	Stable      bool
	GCPercent   float64
	MeltingTemp float64
}

func newZstdEncoder() (*zstd.Encoder, error) {
	return zstd.NewWriter(nil)
}

func newZstdDecoder() (*zstd.Decoder, error) {
	return zstd.NewReader(nil)
}

func encryptPayload(sessionKey kdf.SessionKey, nonce [12]byte, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(sessionKey[:])
	if err != nil {
		return nil, fmt.Errorf("pipeline: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("pipeline: gcm: %w", err)
	}
	return gcm.Seal(nil, nonce[:], plaintext, nil), nil
}

func decryptPayload(sessionKey kdf.SessionKey, nonce [12]byte, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(sessionKey[:])
	if err != nil {
		return nil, fmt.Errorf("pipeline: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("pipeline: gcm: %w", err)
	}
	return gcm.Open(nil, nonce[:], ciphertext, nil)
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("pipeline: random: %w", err)
	}
	return b, nil
}

func processBlockShards(blockID uint32, shards [][]byte, fwd, rev string, jobs int) []shardCompileResult {
	indices := make([]int, len(shards))
	for i := range indices {
		indices[i] = i
	}
	return workpool.Map(jobs, indices, func(i int) shardCompileResult {
		shard := shards[i]
		crc := crc32.ChecksumIEEE(shard)
		protected := make([]byte, 4+len(shard))
		binary.BigEndian.PutUint32(protected, crc)
		copy(protected[4:], shard)

		sequence := oligo.Assemble(uint32(i), protected, fwd, rev)
		report := analyzeStability(sequence)

		return shardCompileResult{
			Header:      fmt.Sprintf(">blk%d_s%d", blockID, i),
			Sequence:    sequence,
			Stable:      report.IsStable,
			GCPercent:   report.GCPercent,
			MeltingTemp: report.MeltingTemp,
		}
	})
}

// Compile reads r in streamingChunkSize blocks, compresses, optionally
// encrypts, erasure-codes, and transcodes each into FASTA-framed DNA
// strands written to w.
func Compile(r io.Reader, w io.Writer, cfg CompileConfig, logger *slog.Logger) (Stats, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fwd, rev := oligo.ResolvePrimers(cfg.Tag, cfg.PrimerFwd, cfg.PrimerRev)

	rsManager, err := redundancy.NewManager(cfg.DataShards, cfg.ParityShards)
	if err != nil {
		return Stats{}, archiveerr.Newf(archiveerr.Parameter, "compile: %v", err)
	}

	encoder, err := newZstdEncoder()
	if err != nil {
		return Stats{}, archiveerr.Newf(archiveerr.IO, "compile: zstd encoder: %v", err)
	}
	defer encoder.Close()

	var globalSalt [16]byte
	var masterKey kdf.MasterKey
	if cfg.Password != "" {
		gs, err := randomBytes(16)
		if err != nil {
			return Stats{}, err
		}
		copy(globalSalt[:], gs)
		masterKey = kdf.DeriveMasterKey(cfg.Password, globalSalt)
	}

	var stats Stats
	buf := make([]byte, streamingChunkSize)
	var blockID uint32

	for {
		n, readErr := io.ReadFull(r, buf)
		if readErr != nil && readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
			return stats, archiveerr.Newf(archiveerr.IO, "compile: read input: %v", readErr)
		}
		if n == 0 {
			break
		}
		chunk := buf[:n]
		stats.TotalBytes += uint64(n)

		compressed := encoder.EncodeAll(chunk, nil)

		committed := false
		for attempt := 1; !committed; attempt++ {
			nonceBytes, err := randomBytes(12)
			if err != nil {
				return stats, err
			}
			blockSaltBytes, err := randomBytes(16)
			if err != nil {
				return stats, err
			}
			var nonce [12]byte
			var blockSalt [16]byte
			copy(nonce[:], nonceBytes)
			copy(blockSalt[:], blockSaltBytes)

			payload := compressed
			if cfg.Password != "" {
				sessionKey, err := kdf.DeriveSessionKey(masterKey, blockSalt)
				if err != nil {
					return stats, archiveerr.ForBlockf(archiveerr.KDF, blockID, "%v", err)
				}
				payload, err = encryptPayload(sessionKey, nonce, compressed)
				if err != nil {
					return stats, archiveerr.ForBlockf(archiveerr.AEAD, blockID, "%v", err)
				}
			}

			record := make([]byte, 0, blockHeaderLen+len(payload))
			record = binary.BigEndian.AppendUint64(record, uint64(n))
			record = binary.BigEndian.AppendUint64(record, uint64(len(payload)))
			record = append(record, globalSalt[:]...)
			record = append(record, blockSalt[:]...)
			record = append(record, nonce[:]...)
			record = append(record, payload...)

			shards, err := rsManager.Encode(record)
			if err != nil {
				return stats, archiveerr.ForBlockf(archiveerr.Parameter, blockID, "%v", err)
			}

			results := processBlockShards(blockID, shards, fwd, rev, cfg.Jobs)
			unstable := 0
			var gcSum, tmSum float64
			for _, res := range results {
				if !res.Stable {
					unstable++
				}
				gcSum += res.GCPercent
				tmSum += res.MeltingTemp
			}

			reportProgress(cfg.Progress, ProgressEvent{
				BlockID:   blockID,
				Bytes:     n,
				GCPercent: gcSum / float64(len(results)),
				MeltingC:  tmSum / float64(len(results)),
				Attempt:   attempt,
				Unstable:  unstable,
			})

			if unstable == 0 || (attempt >= maxStabilityRetries && cfg.Force) {
				if unstable > 0 {
					logger.Warn("committing block with unstable strands",
						"block", blockID, "unstable", unstable, "attempts", attempt)
				}
				for _, res := range results {
					if err := fasta.WriteRecord(w, res.Header, res.Sequence); err != nil {
						return stats, archiveerr.Newf(archiveerr.IO, "compile: write: %v", err)
					}
				}
				stats.EncodedBytes += uint64(len(record))
				stats.Blocks++
				committed = true
				continue
			}

			if attempt >= maxStabilityRetries {
				return stats, archiveerr.ForBlockf(archiveerr.Stability,
					blockID, "%d unstable strands after %d attempts", unstable, attempt)
			}
			// Retry with freshly rolled salts; the resulting ciphertext
			// (and thus the transcoded DNA) changes entirely.
		}

		blockID++
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
	}

	return stats, nil
}

func parseStrand(header, seq, fwd, rev string) (blockID uint32, shardIndex int, payload []byte, ok bool) {
	clean := header
	if len(clean) > 0 && clean[0] == '>' {
		clean = clean[1:]
	}
	if len(clean) < 3 || clean[:3] != "blk" {
		return 0, 0, nil, false
	}

	underscore := -1
	for i := 3; i < len(clean); i++ {
		if clean[i] == '_' {
			underscore = i
			break
		}
	}
	if underscore < 0 {
		return 0, 0, nil, false
	}
	var id uint32
	if _, err := fmt.Sscanf(clean[3:underscore], "%d", &id); err != nil {
		return 0, 0, nil, false
	}

	core, ok := oligo.StripFuzzy(seq, fwd, rev, 3)
	if !ok || len(core) < oligo.AddressLength {
		return 0, 0, nil, false
	}
	addressRaw := core[:oligo.AddressLength]
	payloadRaw := core[oligo.AddressLength:]

	startBaseAddr := oligo.SeedFromLastChar(fwd)

	var correctedAddress string
	var addressBytes []byte
	if decoded, ok := dna.DecodeShard(addressRaw, startBaseAddr); ok && len(decoded) >= 4 {
		addressBytes = decoded
		correctedAddress = addressRaw
	} else {
		healed, ok := dna.ViterbiCorrect(addressRaw, startBaseAddr)
		if !ok {
			return 0, 0, nil, false
		}
		decoded, ok := dna.DecodeShard(healed, startBaseAddr)
		if !ok || len(decoded) < 4 {
			return 0, 0, nil, false
		}
		addressBytes = decoded
		correctedAddress = healed
	}
	index := binary.BigEndian.Uint32(addressBytes[:4])

	startBasePayload := oligo.SeedFromLastChar(correctedAddress)

	tryDecodePayload := func(s string) ([]byte, bool) {
		decoded, ok := dna.DecodeShard(s, startBasePayload)
		if !ok || len(decoded) < 4 {
			return nil, false
		}
		providedCRC := binary.BigEndian.Uint32(decoded[:4])
		actual := decoded[4:]
		if crc32.ChecksumIEEE(actual) != providedCRC {
			return nil, false
		}
		return actual, true
	}

	if data, ok := tryDecodePayload(payloadRaw); ok {
		return id, int(index), data, true
	}
	if healedPayload, ok := dna.ViterbiCorrect(payloadRaw, startBasePayload); ok {
		if data, ok := tryDecodePayload(healedPayload); ok {
			return id, int(index), data, true
		}
	}
	return 0, 0, nil, false
}

// Restore aggregates FASTA-framed shards read from r, order-independent
// across blocks, reconstructing each block once enough shards arrive
// and emitting the decoded bytes to w in ascending block order.
func Restore(r io.Reader, w io.Writer, cfg RestoreConfig, logger *slog.Logger) (Stats, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fwd, rev := oligo.ResolvePrimers(cfg.Tag, cfg.PrimerFwd, cfg.PrimerRev)

	rsManager, err := redundancy.NewManager(cfg.DataShards, cfg.ParityShards)
	if err != nil {
		return Stats{}, archiveerr.Newf(archiveerr.Parameter, "restore: %v", err)
	}

	decoder, err := newZstdDecoder()
	if err != nil {
		return Stats{}, archiveerr.Newf(archiveerr.IO, "restore: zstd decoder: %v", err)
	}
	defer decoder.Close()

	total := cfg.DataShards + cfg.ParityShards
	activeBlocks := make(map[uint32]map[int][]byte)
	decodedBuffer := make(map[uint32][]byte)
	var nextExpected uint32
	shardsFound := 0
	var cachedMasterKey *kdf.MasterKey

	var stats Stats
	counter := &countingReader{r: r}
	batcher := fasta.NewBatchReader(counter, 5000, 32*1024*1024)

	for {
		batch, err := batcher.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, archiveerr.Newf(archiveerr.IO, "restore: read: %v", err)
		}

		type parsedStrand struct {
			blockID uint32
			index   int
			data    []byte
			ok      bool
		}
		parsed := workpool.Map(cfg.Jobs, batch, func(rec fasta.Record) parsedStrand {
			var p parsedStrand
			p.blockID, p.index, p.data, p.ok = parseStrand(rec.Header, rec.Sequence, fwd, rev)
			return p
		})

		for _, ps := range parsed {
			if !ps.ok {
				continue
			}
			blockID, idx, shardData := ps.blockID, ps.index, ps.data
			shardsFound++
			if blockID < nextExpected {
				continue
			}
			if _, decoded := decodedBuffer[blockID]; decoded {
				continue
			}

			blockMap, exists := activeBlocks[blockID]
			if !exists {
				blockMap = make(map[int][]byte)
				activeBlocks[blockID] = blockMap
			}
			blockMap[idx] = shardData

			if len(blockMap) < cfg.DataShards {
				continue
			}

			rsShards := make([][]byte, total)
			for i := 0; i < total; i++ {
				rsShards[i] = blockMap[i]
			}

			raw, err := rsManager.Reconstruct(rsShards)
			if err != nil {
				continue
			}
			if len(raw) < blockHeaderLen {
				continue
			}

			origLen := binary.BigEndian.Uint64(raw[0:8])
			encLen := binary.BigEndian.Uint64(raw[8:16])
			globalSaltBytes := raw[16:32]
			blockSaltBytes := raw[32:48]
			nonceBytes := raw[48:60]
			if uint64(len(raw)) < uint64(blockHeaderLen)+encLen {
				continue
			}
			payload := raw[blockHeaderLen : uint64(blockHeaderLen)+encLen]

			if cfg.Password != "" {
				if cachedMasterKey == nil {
					var gs [16]byte
					copy(gs[:], globalSaltBytes)
					mk := kdf.DeriveMasterKey(cfg.Password, gs)
					cachedMasterKey = &mk
				}
				var bs [16]byte
				copy(bs[:], blockSaltBytes)
				sessionKey, err := kdf.DeriveSessionKey(*cachedMasterKey, bs)
				if err != nil {
					return stats, archiveerr.ForBlockf(archiveerr.KDF, blockID, "%v", err)
				}
				var nonce [12]byte
				copy(nonce[:], nonceBytes)
				decrypted, err := decryptPayload(sessionKey, nonce, payload)
				if err != nil {
					return stats, archiveerr.ForBlock(archiveerr.AEAD, blockID, "authentication failed: wrong password or corrupted block")
				}
				payload = decrypted
			}

			decompressed, err := decoder.DecodeAll(payload, nil)
			if err != nil {
				return stats, archiveerr.ForBlockf(archiveerr.IO, blockID, "decompress: %v", err)
			}
			if uint64(len(decompressed)) < origLen {
				return stats, archiveerr.ForBlockf(archiveerr.IO, blockID, "decompressed length %d shorter than origLen %d", len(decompressed), origLen)
			}
			finalData := decompressed[:origLen]

			decodedBuffer[blockID] = finalData
			delete(activeBlocks, blockID)
			stats.Blocks++
			stats.TotalBytes += uint64(len(finalData))

			logger.Debug("recovered block", "block", blockID, "bytes", len(finalData))
			reportProgress(cfg.Progress, ProgressEvent{BlockID: blockID, Bytes: len(finalData)})

			for {
				data, ok := decodedBuffer[nextExpected]
				if !ok {
					break
				}
				if _, err := w.Write(data); err != nil {
					return stats, archiveerr.Newf(archiveerr.IO, "restore: write: %v", err)
				}
				delete(decodedBuffer, nextExpected)
				nextExpected++
			}
		}
	}

	if shardsFound == 0 && counter.bytes > 0 {
		return stats, archiveerr.New(archiveerr.NoMatch, "input contains strands but none matched the provided tag/primers")
	}
	if len(activeBlocks) > 0 {
		ids := make([]uint32, 0, len(activeBlocks))
		for id := range activeBlocks {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		return stats, archiveerr.Newf(archiveerr.Reconstruct, "insufficient redundancy for blocks %v", ids)
	}
	if len(decodedBuffer) > 0 {
		ids := make([]uint32, 0, len(decodedBuffer))
		for id := range decodedBuffer {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		return stats, archiveerr.Newf(archiveerr.SequenceGap, "recovered blocks %v but missing preceding block %d", ids, nextExpected)
	}

	return stats, nil
}
