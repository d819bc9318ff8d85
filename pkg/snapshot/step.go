package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	apperrors "github.com/nrnmpi/multisplit/pkg/errors"
	"github.com/nrnmpi/multisplit/pkg/compression"
)

// StepSnapshot is one rank's postmortem artifact for one step: the
// conservation-loop counters (§4.4/§5's nsend/nrecv per buffer) and the
// composed backbone transfer coefficients, kept for offline comparison
// across runs.
type StepSnapshot struct {
	Rank int       `json:"rank"`
	Step int64     `json:"step"`
	NSend int64    `json:"n_send"`
	NRecv int64    `json:"n_recv"`
	S1A   []float64 `json:"s1a"`
	S1B   []float64 `json:"s1b"`
}

func key(rank int, step int64) string {
	return fmt.Sprintf("rank-%d/step-%08d.json.zst", rank, step)
}

// Save compresses and uploads a StepSnapshot under a key derived from its
// rank and step.
func Save(ctx context.Context, store Storage, snap StepSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeUploadError, "marshal step snapshot", err)
	}

	compressed, err := compression.Default().Compress(raw)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeUploadError, "compress step snapshot", err)
	}

	if err := store.Upload(ctx, key(snap.Rank, snap.Step), bytes.NewReader(compressed)); err != nil {
		return apperrors.Wrap(apperrors.CodeUploadError, "upload step snapshot", err)
	}
	return nil
}

// Load downloads and decompresses a previously saved StepSnapshot.
func Load(ctx context.Context, store Storage, rank int, step int64) (StepSnapshot, error) {
	rc, err := store.Download(ctx, key(rank, step))
	if err != nil {
		return StepSnapshot{}, apperrors.Wrap(apperrors.CodeDownloadError, "download step snapshot", err)
	}
	defer rc.Close()

	compressed, err := io.ReadAll(rc)
	if err != nil {
		return StepSnapshot{}, apperrors.Wrap(apperrors.CodeDownloadError, "read step snapshot", err)
	}

	raw, err := compression.Default().Decompress(compressed)
	if err != nil {
		return StepSnapshot{}, apperrors.Wrap(apperrors.CodeDownloadError, "decompress step snapshot", err)
	}

	var snap StepSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return StepSnapshot{}, apperrors.Wrap(apperrors.CodeParseError, "unmarshal step snapshot", err)
	}
	return snap, nil
}
