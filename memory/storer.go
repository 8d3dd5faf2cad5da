package memory

import (
	"bytes"
	"context"
	"io"

	"github.com/h2non/filetype"
	memdb "github.com/hashicorp/go-memdb"
	"impractical.co/filefield"
)

var _ filefield.Storer = &Storer{}

var (
	blobSchema = &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			"blob": &memdb.TableSchema{
				Name: "blob",
				Indexes: map[string]*memdb.IndexSchema{
					"id": &memdb.IndexSchema{
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID", Lowercase: true},
					},
				},
			},
		},
	}
)

// Blob is stored content. Blobs are immutable once they're in the
// database.
type Blob struct {
	ID       string
	Contents []byte
}

// blobWriter buffers an upload and commits it to the database when closed.
type blobWriter struct {
	s   *Storer
	id  string
	buf bytes.Buffer
}

func (w *blobWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *blobWriter) Close() error {
	txn := w.s.db.Txn(true)
	defer txn.Abort()
	err := txn.Insert("blob", &Blob{ID: w.id, Contents: w.buf.Bytes()})
	if err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// Storer is a filefield.Storer that keeps content in memory.
type Storer struct {
	db *memdb.MemDB
}

func (s *Storer) Upload(ctx context.Context, hash string) (io.WriteCloser, error) {
	txn := s.db.Txn(false)
	exists, err := txn.First("blob", "id", hash)
	if err != nil {
		return nil, err
	}
	if exists != nil {
		return nil, nil
	}
	return &blobWriter{s: s, id: hash}, nil
}

func (s *Storer) Download(ctx context.Context, hash string) (io.ReadCloser, error) {
	txn := s.db.Txn(false)
	res, err := txn.First("blob", "id", hash)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, filefield.ErrFileNotFound
	}
	return io.NopCloser(bytes.NewReader(res.(*Blob).Contents)), nil
}

func (s *Storer) Delete(ctx context.Context, hash string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	exists, err := txn.First("blob", "id", hash)
	if err != nil {
		return err
	}
	if exists == nil {
		return nil
	}
	err = txn.Delete("blob", exists)
	if err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *Storer) Stat(ctx context.Context, hash string) (filefield.Blob, error) {
	txn := s.db.Txn(false)
	res, err := txn.First("blob", "id", hash)
	if err != nil {
		return filefield.Blob{}, err
	}
	if res == nil {
		return filefield.Blob{}, filefield.ErrFileNotFound
	}
	b := res.(*Blob)
	t, err := filetype.Match(b.Contents)
	if err != nil && len(b.Contents) > 0 {
		return filefield.Blob{}, err
	}
	blob := filefield.Blob{
		Size:   int64(len(b.Contents)),
		SHA256: hash,
	}
	if t != filetype.Unknown {
		blob.ContentType = t.MIME.Value
	}
	return blob, nil
}

func NewStorer() (*Storer, error) {
	db, err := memdb.NewMemDB(blobSchema)
	if err != nil {
		return nil, err
	}
	return &Storer{
		db: db,
	}, nil
}
