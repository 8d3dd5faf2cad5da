package memory

import (
	"context"
	"strconv"

	memdb "github.com/hashicorp/go-memdb"
	"impractical.co/filefield"
)

var _ filefield.DataStore = &Data{}

var (
	dataSchema = &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			"data": &memdb.TableSchema{
				Name: "data",
				Indexes: map[string]*memdb.IndexSchema{
					"id": &memdb.IndexSchema{
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Key"},
					},
				},
			},
		},
	}
)

type dataRecord struct {
	Key string
	filefield.Record
}

func dataKey(userID, fieldID int64) string {
	return strconv.FormatInt(userID, 10) + "|" + strconv.FormatInt(fieldID, 10)
}

// Data stores profile field values in memory.
type Data struct {
	db *memdb.MemDB
}

func NewData() (*Data, error) {
	db, err := memdb.NewMemDB(dataSchema)
	if err != nil {
		return nil, err
	}
	return &Data{db: db}, nil
}

func (d *Data) GetRecord(ctx context.Context, userID, fieldID int64) (filefield.Record, bool, error) {
	raw, err := d.db.Txn(false).First("data", "id", dataKey(userID, fieldID))
	if err != nil {
		return filefield.Record{}, false, err
	}
	if raw == nil {
		return filefield.Record{}, false, nil
	}
	return raw.(*dataRecord).Record, true, nil
}

func (d *Data) PutRecord(ctx context.Context, rec filefield.Record) error {
	txn := d.db.Txn(true)
	defer txn.Abort()
	err := txn.Insert("data", &dataRecord{Key: dataKey(rec.UserID, rec.FieldID), Record: rec})
	if err != nil {
		return err
	}
	txn.Commit()
	return nil
}
