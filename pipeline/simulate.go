package pipeline

import (
	"io"
	"math/rand/v2"

	"helix.dev/codec/archiveerr"
	"helix.dev/codec/fasta"
	"helix.dev/codec/workpool"
)

// simulateBatchItems and simulateBatchBytes bound one in-memory batch
// for Simulate: 2000 strands or 64 MiB, whichever comes first.
const (
	simulateBatchItems = 2000
	simulateBatchBytes = 64 * 1024 * 1024
)

var decayBases = [4]byte{'A', 'C', 'G', 'T'}

type decayResult struct {
	sequence string
	survived bool
}

func decayStrand(seq string, dropoutRate, mutationRate float64) decayResult {
	if rand.Float64() < dropoutRate {
		return decayResult{survived: false}
	}
	if mutationRate <= 0 {
		return decayResult{sequence: seq, survived: true}
	}

	mutated := []byte(seq)
	for i, b := range mutated {
		if rand.Float64() < mutationRate {
			mutated[i] = decayBases[rand.IntN(len(decayBases))]
		} else {
			mutated[i] = b
		}
	}
	return decayResult{sequence: string(mutated), survived: true}
}

// Simulate applies physical decay — random strand dropout plus optional
// per-base substitution mutation — to every record read from r, writing
// survivors to w. dropoutPct is a percentage in [0,100]; mutationRate is
// a per-base probability in [0,1].
func Simulate(r io.Reader, w io.Writer, dropoutPct int, mutationRate float64, jobs int) (total, kept int, err error) {
	dropoutRate := float64(dropoutPct) / 100.0

	batcher := fasta.NewBatchReader(r, simulateBatchItems, simulateBatchBytes)

	for {
		batch, berr := batcher.Next()
		if berr == io.EOF {
			break
		}
		if berr != nil {
			return total, kept, archiveerr.Newf(archiveerr.IO, "simulate: read: %v", berr)
		}
		total += len(batch)

		results := workpool.Map(jobs, batch, func(rec fasta.Record) decayResult {
			return decayStrand(rec.Sequence, dropoutRate, mutationRate)
		})

		for i, res := range results {
			if !res.survived {
				continue
			}
			if err := fasta.WriteRecord(w, batch[i].Header, res.sequence); err != nil {
				return total, kept, archiveerr.Newf(archiveerr.IO, "simulate: write: %v", err)
			}
			kept++
		}
	}

	return total, kept, nil
}
