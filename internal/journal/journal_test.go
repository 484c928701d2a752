package journal

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type named struct{ id, desc string }

func (n named) ID() string          { return n.id }
func (n named) Description() string { return n.desc }

func TestJournalLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log", "run.json")
	steps := []Named{named{"partition", "Partition disk"}, named{"pool", "Create pool"}, named{"finalize", "Finalize"}}
	j := New(path, "/dev/sdx", "dev", steps, zerolog.Nop())
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	j.Now = func() time.Time { clock = clock.Add(time.Second); return clock }

	if _, err := uuid.Parse(j.ID()); err != nil {
		t.Fatalf("run id %q: %v", j.ID(), err)
	}
	j.Start("partition")
	j.Done("partition", nil)
	j.Start("pool")
	boom := errors.New("zpool create: exit status 1")
	j.Done("pool", boom)
	j.Finish(boom)

	tx, ok, err := Load(path)
	if err != nil || !ok {
		t.Fatalf("load ok=%v err=%v", ok, err)
	}
	var got []Status
	for _, s := range tx.Steps {
		got = append(got, s.Status)
	}
	if diff := cmp.Diff([]Status{StatusOK, StatusError, StatusSkipped}, got); diff != "" {
		t.Fatalf("statuses (-want +got):\n%s", diff)
	}
	if tx.OK || tx.Error != boom.Error() || tx.Steps[1].Err != boom.Error() {
		t.Fatalf("unexpected tx: %+v", tx)
	}
	if tx.FinishedAt == nil || !tx.Steps[0].FinishedAt.After(*tx.Steps[0].StartedAt) {
		t.Fatalf("timestamps missing: %+v", tx)
	}
	if tx.Disk != "/dev/sdx" || tx.ID != j.ID() {
		t.Fatalf("header: %+v", tx)
	}
}

func TestJournalInMemory(t *testing.T) {
	j := New("", "/dev/sdx", "", nil, zerolog.Nop())
	j.Start("extra")
	j.Done("extra", nil)
	j.Finish(nil)
	tx := j.Tx()
	if !tx.OK || len(tx.Steps) != 1 || tx.Steps[0].Status != StatusOK {
		t.Fatalf("unexpected: %+v", tx)
	}
}
