package filefield_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"testing"

	"impractical.co/filefield"
	"impractical.co/filefield/memory"
	"impractical.co/filefield/minio"
	yall "yall.in"
	"yall.in/colour"
)

type Factory interface {
	NewStorer(ctx context.Context) (filefield.Storer, error)
	TeardownStorers() error
}

var factories []Factory

func TestMain(m *testing.M) {
	flag.Parse()

	// set up our test storers
	factories = append(factories, memory.Factory{})
	if endpoint := os.Getenv("FILEFIELD_MINIO_ENDPOINT"); endpoint != "" {
		factories = append(factories, minio.Factory{Config: minio.Config{
			Endpoint:  endpoint,
			Bucket:    os.Getenv("FILEFIELD_MINIO_BUCKET"),
			AccessKey: os.Getenv("FILEFIELD_MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("FILEFIELD_MINIO_SECRET_KEY"),
			Prefix:    "filefield-test",
		}})
	}

	// run the tests
	result := m.Run()

	// tear down all the storers we created
	for _, factory := range factories {
		err := factory.TeardownStorers()
		if err != nil {
			log.Printf("Error cleaning up after %T: %+v\n", factory, err)
		}
	}

	// return the test result
	os.Exit(result)
}

func testContext() context.Context {
	logger := yall.New(colour.New(os.Stdout, yall.Debug))
	return yall.InContext(context.Background(), logger)
}

func runTest(t *testing.T, f func(*testing.T, filefield.Storer, context.Context)) {
	t.Parallel()
	for _, factory := range factories {
		ctx := testContext()
		storer, err := factory.NewStorer(ctx)
		if err != nil {
			t.Fatalf("Error creating Storer from %T: %+v\n", factory, err)
		}
		t.Run(fmt.Sprintf("Storer=%T", storer), func(t *testing.T) {
			t.Parallel()
			f(t, storer, ctx)
		})
	}
}

func shaOf(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func padBytes(in []byte) []byte {
	for len(in) < 300 {
		in = append(in, in...)
	}
	return in
}

var testgif = padBytes([]byte("GIF89a\x01\x00\x01\x00\x80\x00\x00\xff\xff\xff\x00\x00\x00!\xf9\x04\x01\x00\x00\x00\x00,\x00\x00\x00\x00\x01\x00\x01\x00\x00\x02\x02D\x01\x00;"))

func TestUploadDownloadDelete(t *testing.T) {
	type input struct {
		hash string
		data []byte
		mime []string
	}
	type output struct {
		blob filefield.Blob
		err  error
	}
	type uploadTest struct {
		in  input
		out output
	}
	table := map[string]uploadTest{
		"helloworld": uploadTest{
			in:  input{data: []byte("hello, world"), hash: "09ca7e4eaa6e8ae9c7d261167129184883644d07dfba7cbfbc4c8a2e08360d5b", mime: []string{filefield.AcceptAnyType}},
			out: output{blob: filefield.Blob{SHA256: "09ca7e4eaa6e8ae9c7d261167129184883644d07dfba7cbfbc4c8a2e08360d5b", Size: 12}},
		},
		"gif": uploadTest{
			in:  input{data: testgif, hash: shaOf(testgif), mime: []string{"image/gif", "image/png"}},
			out: output{blob: filefield.Blob{SHA256: shaOf(testgif), Size: int64(len(testgif)), ContentType: "image/gif"}},
		},
	}
	for id, testcase := range table {
		id, testcase := id, testcase
		t.Run("ID="+id, func(t *testing.T) {
			runTest(t, func(t *testing.T, storer filefield.Storer, ctx context.Context) {
				buffer := bytes.NewBuffer(testcase.in.data)
				result, created, err := filefield.Upload(ctx, storer, ioutil.NopCloser(buffer), testcase.in.hash, filefield.UploadOptions{AcceptedMIMEs: testcase.in.mime})
				if !errors.Is(err, testcase.out.err) {
					t.Errorf("Expected error to be %q, got %q", testcase.out.err, err)
					return
				}
				if !created {
					t.Errorf("Expected new blob to be created, was not")
					return
				}

				if result.Size != testcase.out.blob.Size {
					t.Errorf("Expected size to be %d, got %d", testcase.out.blob.Size, result.Size)
					return
				}
				if result.SHA256 != testcase.out.blob.SHA256 {
					t.Errorf("Expected SHA256 to be %q, got %q", testcase.out.blob.SHA256, result.SHA256)
					return
				}
				if result.ContentType != testcase.out.blob.ContentType {
					t.Errorf("Expected content type to be %q, got %q", testcase.out.blob.ContentType, result.ContentType)
					return
				}

				ctx = context.Background()
				var buf bytes.Buffer
				err = filefield.Download(ctx, storer, &buf, testcase.out.blob.SHA256)
				if !errors.Is(err, testcase.out.err) {
					t.Errorf("Expected error to be %q, got %q", testcase.out.err, err)
					return
				}
				b := buf.Bytes()
				if !bytes.Equal(testcase.in.data, b) {
					t.Errorf("Expected download to be %q, got %q", hex.EncodeToString(testcase.in.data), hex.EncodeToString(b))
					return
				}

				ctx = context.Background()
				err = storer.Delete(ctx, testcase.out.blob.SHA256)
				if err != nil {
					t.Errorf("Unexpected error: %s", err)
					return
				}
				buf = bytes.Buffer{}
				err = filefield.Download(ctx, storer, &buf, testcase.out.blob.SHA256)
				if !errors.Is(err, filefield.ErrFileNotFound) {
					t.Errorf("Expected %q, got %q", filefield.ErrFileNotFound, err)
					return
				}
				err = storer.Delete(ctx, testcase.out.blob.SHA256)
				if err != nil {
					t.Errorf("Unexpected error: %s", err)
					return
				}
			})
		})
	}
}

func TestUploadIncorrectSHA(t *testing.T) {
	runTest(t, func(t *testing.T, storer filefield.Storer, ctx context.Context) {
		data := []byte("the contents don't match the claimed hash")
		claimed := shaOf([]byte("something else entirely"))
		_, created, err := filefield.Upload(ctx, storer, bytes.NewReader(data), claimed, filefield.UploadOptions{})
		if !errors.Is(err, filefield.ErrIncorrectSHA) {
			t.Fatalf("Expected %q, got %q", filefield.ErrIncorrectSHA, err)
		}
		if created {
			t.Errorf("Expected no blob to be created")
		}
		if _, err := storer.Stat(ctx, claimed); !errors.Is(err, filefield.ErrFileNotFound) {
			t.Errorf("Expected incorrectly named blob to be deleted, got %v", err)
		}
	})
}

func TestUploadExisting(t *testing.T) {
	runTest(t, func(t *testing.T, storer filefield.Storer, ctx context.Context) {
		data := []byte("uploaded twice")
		sha := shaOf(data)
		_, created, err := filefield.Upload(ctx, storer, bytes.NewReader(data), sha, filefield.UploadOptions{})
		if err != nil {
			t.Fatalf("Unexpected error: %s", err)
		}
		if !created {
			t.Fatalf("Expected first upload to create the blob")
		}
		blob, created, err := filefield.Upload(ctx, storer, bytes.NewReader(data), sha, filefield.UploadOptions{})
		if err != nil {
			t.Fatalf("Unexpected error: %s", err)
		}
		if created {
			t.Errorf("Expected second upload not to create the blob")
		}
		if blob.Size != int64(len(data)) || blob.SHA256 != sha {
			t.Errorf("Expected existing blob %s of %d bytes, got %+v", sha, len(data), blob)
		}
	})
}

func TestUploadUnsupportedType(t *testing.T) {
	runTest(t, func(t *testing.T, storer filefield.Storer, ctx context.Context) {
		data := padBytes([]byte("plain text isn't an image. "))
		sha := shaOf(data)
		_, _, err := filefield.Upload(ctx, storer, bytes.NewReader(data), sha, filefield.UploadOptions{AcceptedMIMEs: []string{"image/*"}})
		if err == nil {
			t.Fatalf("Expected an error uploading unsupported content")
		}
		if _, err := storer.Stat(ctx, sha); !errors.Is(err, filefield.ErrFileNotFound) {
			t.Errorf("Expected rejected blob to be deleted, got %v", err)
		}
	})
}
