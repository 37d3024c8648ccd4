package pipeline

import (
	"io"
	"strings"

	"helix.dev/codec/archiveerr"
	"helix.dev/codec/fasta"
	"helix.dev/codec/oligo"
	"helix.dev/codec/workpool"
)

// searchBatchItems and searchBatchBytes bound one in-memory batch for
// Search: 5000 strands or 32 MiB, whichever comes first.
const (
	searchBatchItems = 5000
	searchBatchBytes = 32 * 1024 * 1024
)

// Search filters a soup of FASTA strands for the ones bounded by the
// given tag's primers (an in-silico PCR amplification), streaming
// matches to w as they are found.
func Search(r io.Reader, w io.Writer, tag, primerFwd, primerRev string, jobs int) (int, error) {
	fwd, rev := oligo.ResolvePrimers(tag, primerFwd, primerRev)

	batcher := fasta.NewBatchReader(r, searchBatchItems, searchBatchBytes)
	total := 0

	for {
		batch, err := batcher.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return total, archiveerr.Newf(archiveerr.IO, "search: read: %v", err)
		}

		matches := workpool.Map(jobs, batch, func(rec fasta.Record) bool {
			return strings.HasPrefix(rec.Sequence, fwd) && strings.HasSuffix(rec.Sequence, rev)
		})

		for i, isMatch := range matches {
			if !isMatch {
				continue
			}
			if err := fasta.WriteRecord(w, batch[i].Header, batch[i].Sequence); err != nil {
				return total, archiveerr.Newf(archiveerr.IO, "search: write: %v", err)
			}
			total++
		}
	}

	return total, nil
}
