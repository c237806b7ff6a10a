package export

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/motionforge/posepipe/types"
)

type fakePutClient struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutClient) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = params
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.body = body
	return &s3.PutObjectOutput{}, nil
}

func testDocument() *SequenceDocument {
	obs := &types.PoseObservation{
		FrameNumber: 0,
		Keypoints:   []types.Keypoint{{X: 10, Y: 20, Confidence: 0.9}},
		Confidence:  0.9,
	}
	return &SequenceDocument{
		FormatVersion: types.Version,
		JobID:         "job-001",
		VideoID:       "video-42",
		ExportedAt:    time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC),
		Observations:  []*types.PoseObservation{obs},
		Verdicts:      []types.QualityVerdict{types.VerdictAccepted},
		Entries: []types.LogicalFrameEntry{
			{Kind: types.EntryDirect, SourceIndex: 0},
		},
	}
}

func TestPut_Success(t *testing.T) {
	client := &fakePutClient{}
	sink, err := NewWithClient(Config{Bucket: "poses", Prefix: "sequences"}, client)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	key, err := sink.Put(context.Background(), testDocument())
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	if key != "sequences/job-001.msgpack" {
		t.Errorf("unexpected key %q", key)
	}
	if client.input == nil {
		t.Fatal("expected PutObject call")
	}
	if *client.input.Bucket != "poses" {
		t.Errorf("expected bucket poses, got %q", *client.input.Bucket)
	}
	if *client.input.Key != key {
		t.Errorf("key mismatch: input %q, returned %q", *client.input.Key, key)
	}

	var decoded SequenceDocument
	if err := msgpack.Unmarshal(client.body, &decoded); err != nil {
		t.Fatalf("decode uploaded document: %v", err)
	}
	if decoded.JobID != "job-001" {
		t.Errorf("expected job-001, got %q", decoded.JobID)
	}
	if len(decoded.Observations) != 1 || decoded.Observations[0].Keypoints[0].X != 10 {
		t.Errorf("observations did not round trip: %+v", decoded.Observations)
	}
	if len(decoded.Verdicts) != 1 || decoded.Verdicts[0] != types.VerdictAccepted {
		t.Errorf("verdicts did not round trip: %v", decoded.Verdicts)
	}
}

func TestPut_NoPrefix(t *testing.T) {
	client := &fakePutClient{}
	sink, err := NewWithClient(Config{Bucket: "poses"}, client)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	key, err := sink.Put(context.Background(), testDocument())
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if key != "job-001.msgpack" {
		t.Errorf("unexpected key %q", key)
	}
}

func TestPut_MissingJobID(t *testing.T) {
	sink, err := NewWithClient(Config{Bucket: "poses"}, &fakePutClient{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	doc := testDocument()
	doc.JobID = ""
	if _, err := sink.Put(context.Background(), doc); err == nil {
		t.Fatal("expected error for missing job ID")
	}
	if _, err := sink.Put(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil document")
	}
}

func TestPut_UploadError(t *testing.T) {
	client := &fakePutClient{err: errors.New("access denied")}
	sink, err := NewWithClient(Config{Bucket: "poses"}, client)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if _, err := sink.Put(context.Background(), testDocument()); err == nil {
		t.Fatal("expected upload error")
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := (&Config{}).Validate(); err == nil {
		t.Error("expected error for missing bucket")
	}
	if err := (&Config{Bucket: "poses"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewWithClient_RequiresBucket(t *testing.T) {
	if _, err := NewWithClient(Config{}, &fakePutClient{}); err == nil {
		t.Fatal("expected error for missing bucket")
	}
}
