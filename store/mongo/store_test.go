package mongo

import (
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/feeledger"
)

func duplicateKey(index string) error {
	return mongo.WriteException{
		WriteErrors: []mongo.WriteError{{
			Code:    11000,
			Message: "E11000 duplicate key error collection: school.coll index: " + index + " dup key",
		}},
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"seq race", duplicateKey("uniq_entries_seq"), feeledger.ErrConcurrencyConflict},
		{"replayed key", duplicateKey("uniq_entries_idempotency_key"), feeledger.ErrDuplicateIdempotencyKey},
		{"gateway txn", duplicateKey("uniq_attempts_gateway_txn"), feeledger.ErrGatewayTxnConflict},
		{"primary key", duplicateKey("_id_"), feeledger.ErrAlreadyExists},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err, "op"); !errors.Is(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	plain := errors.New("connection reset")
	if got := classify(plain, "op"); !errors.Is(got, plain) || errors.Is(got, feeledger.ErrAlreadyExists) {
		t.Errorf("plain error: got %v", got)
	}
}

func TestMigrationIndexesUnique(t *testing.T) {
	indexes := migrationIndexes()

	want := map[string]string{
		colEntries:    "uniq_entries_seq",
		colAttempts:   "uniq_attempts_gateway_txn",
		colStructures: "uniq_structures_student_year",
		colCatalogs:   "uniq_catalogs_active_scope",
	}
	for col, name := range want {
		t.Run(col, func(t *testing.T) {
			found := false
			for _, m := range indexes[col] {
				if m.Options == nil {
					continue
				}
				opts := &options.IndexOptions{}
				for _, set := range m.Options.Opts {
					if err := set(opts); err != nil {
						t.Fatalf("index options: %v", err)
					}
				}
				if opts.Name != nil && *opts.Name == name && opts.Unique != nil && *opts.Unique {
					found = true
				}
			}
			if !found {
				t.Errorf("unique index %q missing on %s", name, col)
			}
		})
	}
}
