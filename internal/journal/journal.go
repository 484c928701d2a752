// Package journal records the progress of one installer run and persists it
// after every stage transition.
package journal

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/master-of-zen/alpine-autoinstall/internal/fsatomic"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

type Step struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Status     Status     `json:"status"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Err        string     `json:"err,omitempty"`
}

type Tx struct {
	ID         string     `json:"id"`
	Disk       string     `json:"disk"`
	Version    string     `json:"version,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Steps      []Step     `json:"steps"`
	OK         bool       `json:"ok"`
	Error      string     `json:"error,omitempty"`
}

// Journal owns a Tx and writes it to Path after each change. An empty Path
// keeps the journal in memory only.
type Journal struct {
	Path string
	Log  zerolog.Logger
	Now  func() time.Time

	tx Tx
}

// Named is implemented by anything with a stage id and description.
type Named interface {
	ID() string
	Description() string
}

// New starts a journal for disk with every step pending.
func New(path, disk, version string, steps []Named, log zerolog.Logger) *Journal {
	j := &Journal{Path: path, Log: log, Now: func() time.Time { return time.Now().UTC() }}
	j.tx = Tx{ID: uuid.NewString(), Disk: disk, Version: version, StartedAt: j.Now()}
	for _, s := range steps {
		j.tx.Steps = append(j.tx.Steps, Step{ID: s.ID(), Name: s.Description(), Status: StatusPending})
	}
	j.save()
	return j
}

// Tx returns a copy of the current record.
func (j *Journal) Tx() Tx {
	tx := j.tx
	tx.Steps = append([]Step(nil), j.tx.Steps...)
	return tx
}

func (j *Journal) ID() string { return j.tx.ID }

func (j *Journal) step(id string) *Step {
	for i := range j.tx.Steps {
		if j.tx.Steps[i].ID == id {
			return &j.tx.Steps[i]
		}
	}
	j.tx.Steps = append(j.tx.Steps, Step{ID: id, Name: id})
	return &j.tx.Steps[len(j.tx.Steps)-1]
}

func (j *Journal) Start(id string) {
	s := j.step(id)
	now := j.Now()
	s.Status, s.StartedAt = StatusRunning, &now
	j.save()
}

// Done marks id finished, failed when err is non-nil.
func (j *Journal) Done(id string, err error) {
	s := j.step(id)
	now := j.Now()
	s.FinishedAt = &now
	s.Status = StatusOK
	if err != nil {
		s.Status, s.Err = StatusError, err.Error()
	}
	j.save()
}

// Finish closes the run. Steps still pending are marked skipped.
func (j *Journal) Finish(err error) {
	now := j.Now()
	j.tx.FinishedAt = &now
	j.tx.OK = err == nil
	if err != nil {
		j.tx.Error = err.Error()
	}
	for i := range j.tx.Steps {
		if j.tx.Steps[i].Status == StatusPending {
			j.tx.Steps[i].Status = StatusSkipped
		}
	}
	j.save()
}

func (j *Journal) save() {
	if j.Path == "" {
		return
	}
	if err := fsatomic.SaveJSON(j.Path, j.tx, 0o600); err != nil {
		j.Log.Warn().Err(err).Str("path", j.Path).Msg("failed to persist run journal")
	}
}

// Load reads a persisted journal.
func Load(path string) (Tx, bool, error) {
	var tx Tx
	ok, err := fsatomic.LoadJSON(path, &tx)
	return tx, ok, err
}
