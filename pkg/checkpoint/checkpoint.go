// Package checkpoint persists one rank's topology build output -- the node
// permutation, the backbone fences, the composed transfer coefficients, and
// the reduced-tree sid list -- so a later run can diff or audit a step's
// topology without re-deriving it (§3 Lifecycle). It mirrors the teacher's
// internal/repository: a GORM model behind a narrow Store interface, backed
// by a per-rank sqlite file.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	apperrors "github.com/nrnmpi/multisplit/pkg/errors"
	"github.com/nrnmpi/multisplit/pkg/topology"
)

// Descriptor is the in-memory form of one rank's topology checkpoint,
// round-tripped through Store.Save/Load.
type Descriptor struct {
	Rank int
	Step int64

	BackboneBegin         int
	BackboneLongBegin     int
	BackboneInteriorBegin int
	BackboneSid1Begin     int
	BackboneLongSid1Begin int
	BackboneEnd           int

	Perm            []int
	S1A             []float64
	S1B             []float64
	Sid0i           []int
	ReducedTreeSids []int32

	SavedAt time.Time
}

// FromResult builds a Descriptor from one rank's topology.Build output.
func FromResult(rank int, step int64, topo *topology.Result) Descriptor {
	sids := make([]int32, len(topo.ReducedTreeSids))
	for i, s := range topo.ReducedTreeSids {
		sids[i] = int32(s)
	}
	return Descriptor{
		Rank:                  rank,
		Step:                  step,
		BackboneBegin:         topo.BackboneBegin,
		BackboneLongBegin:     topo.BackboneLongBegin,
		BackboneInteriorBegin: topo.BackboneInteriorBegin,
		BackboneSid1Begin:     topo.BackboneSid1Begin,
		BackboneLongSid1Begin: topo.BackboneLongSid1Begin,
		BackboneEnd:           topo.BackboneEnd,
		Perm:                  append([]int(nil), topo.Perm...),
		S1A:                   append([]float64(nil), topo.S1A...),
		S1B:                   append([]float64(nil), topo.S1B...),
		Sid0i:                 append([]int(nil), topo.Sid0i...),
		ReducedTreeSids:       sids,
	}
}

// topologyCheckpoint is the sqlite row backing one Descriptor.
type topologyCheckpoint struct {
	ID                    int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Rank                  int    `gorm:"column:rank;index:idx_rank_step,unique"`
	Step                  int64  `gorm:"column:step;index:idx_rank_step,unique"`
	BackboneBegin         int    `gorm:"column:backbone_begin"`
	BackboneLongBegin     int    `gorm:"column:backbone_long_begin"`
	BackboneInteriorBegin int    `gorm:"column:backbone_interior_begin"`
	BackboneSid1Begin     int    `gorm:"column:backbone_sid1_begin"`
	BackboneLongSid1Begin int    `gorm:"column:backbone_long_sid1_begin"`
	BackboneEnd           int    `gorm:"column:backbone_end"`
	Perm                  []byte `gorm:"column:perm;type:json"`
	S1A                   []byte `gorm:"column:s1a;type:json"`
	S1B                   []byte `gorm:"column:s1b;type:json"`
	Sid0i                 []byte `gorm:"column:sid0i;type:json"`
	ReducedTreeSids       []byte `gorm:"column:reduced_tree_sids;type:json"`
	SavedAt               time.Time `gorm:"column:saved_at;autoCreateTime"`
}

func (topologyCheckpoint) TableName() string { return "topology_checkpoints" }

func toRow(d Descriptor) (*topologyCheckpoint, error) {
	perm, err := json.Marshal(d.Perm)
	if err != nil {
		return nil, err
	}
	s1a, err := json.Marshal(d.S1A)
	if err != nil {
		return nil, err
	}
	s1b, err := json.Marshal(d.S1B)
	if err != nil {
		return nil, err
	}
	sid0i, err := json.Marshal(d.Sid0i)
	if err != nil {
		return nil, err
	}
	sids, err := json.Marshal(d.ReducedTreeSids)
	if err != nil {
		return nil, err
	}
	return &topologyCheckpoint{
		Rank:                  d.Rank,
		Step:                  d.Step,
		BackboneBegin:         d.BackboneBegin,
		BackboneLongBegin:     d.BackboneLongBegin,
		BackboneInteriorBegin: d.BackboneInteriorBegin,
		BackboneSid1Begin:     d.BackboneSid1Begin,
		BackboneLongSid1Begin: d.BackboneLongSid1Begin,
		BackboneEnd:           d.BackboneEnd,
		Perm:                  perm,
		S1A:                   s1a,
		S1B:                   s1b,
		Sid0i:                 sid0i,
		ReducedTreeSids:       sids,
	}, nil
}

func fromRow(row *topologyCheckpoint) (Descriptor, error) {
	d := Descriptor{
		Rank:                  row.Rank,
		Step:                  row.Step,
		BackboneBegin:         row.BackboneBegin,
		BackboneLongBegin:     row.BackboneLongBegin,
		BackboneInteriorBegin: row.BackboneInteriorBegin,
		BackboneSid1Begin:     row.BackboneSid1Begin,
		BackboneLongSid1Begin: row.BackboneLongSid1Begin,
		BackboneEnd:           row.BackboneEnd,
		SavedAt:               row.SavedAt,
	}
	for _, pair := range []struct {
		raw []byte
		dst interface{}
	}{
		{row.Perm, &d.Perm},
		{row.S1A, &d.S1A},
		{row.S1B, &d.S1B},
		{row.Sid0i, &d.Sid0i},
		{row.ReducedTreeSids, &d.ReducedTreeSids},
	} {
		if len(pair.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
			return Descriptor{}, err
		}
	}
	return d, nil
}

// Store persists and retrieves topology checkpoints keyed by (rank, step).
type Store interface {
	Save(ctx context.Context, d Descriptor) error
	Load(ctx context.Context, rank int, step int64) (Descriptor, error)
	LatestStep(ctx context.Context, rank int) (int64, error)
	Close() error
}

// GormStore implements Store with a GORM-backed sqlite file, one per rank
// (§3 Lifecycle: "checkpoint store is a single local side-car, not a
// multi-backend OLAP sink").
type GormStore struct {
	db *gorm.DB
}

// Open opens (creating if necessary) the sqlite file at path and migrates
// the checkpoint table.
func Open(path string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, fmt.Sprintf("open checkpoint db %s", path), err)
	}
	if err := db.AutoMigrate(&topologyCheckpoint{}); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "migrate checkpoint schema", err)
	}
	return &GormStore{db: db}, nil
}

// Save upserts the checkpoint for (d.Rank, d.Step), replacing whatever was
// there before -- a rank only ever needs its most recent dump per step.
func (s *GormStore) Save(ctx context.Context, d Descriptor) error {
	row, err := toRow(d)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "encode checkpoint", err)
	}

	err = s.db.WithContext(ctx).
		Where("rank = ? AND step = ?", d.Rank, d.Step).
		Delete(&topologyCheckpoint{}).Error
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "clear previous checkpoint", err)
	}

	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "save checkpoint", err)
	}
	return nil
}

// Load retrieves the checkpoint for (rank, step).
func (s *GormStore) Load(ctx context.Context, rank int, step int64) (Descriptor, error) {
	var row topologyCheckpoint
	err := s.db.WithContext(ctx).
		Where("rank = ? AND step = ?", rank, step).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Descriptor{}, apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("no checkpoint for rank %d step %d", rank, step))
		}
		return Descriptor{}, apperrors.Wrap(apperrors.CodeDatabaseError, "load checkpoint", err)
	}
	d, err := fromRow(&row)
	if err != nil {
		return Descriptor{}, apperrors.Wrap(apperrors.CodeDatabaseError, "decode checkpoint", err)
	}
	return d, nil
}

// LatestStep returns the highest step number checkpointed for rank, or -1
// if none exists.
func (s *GormStore) LatestStep(ctx context.Context, rank int) (int64, error) {
	var row topologyCheckpoint
	err := s.db.WithContext(ctx).
		Where("rank = ?", rank).
		Order("step DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return -1, nil
		}
		return 0, apperrors.Wrap(apperrors.CodeDatabaseError, "query latest checkpoint step", err)
	}
	return row.Step, nil
}

// Close releases the underlying sqlite connection.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "get underlying sql.DB", err)
	}
	return sqlDB.Close()
}
