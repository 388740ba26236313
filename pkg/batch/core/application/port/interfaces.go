// Package port defines the core interfaces (ports) for the serendip application.
// These interfaces abstract the remote generation service and the execution
// callbacks, allowing for flexible implementation and testing.
package port

import (
	"context"
	"io"
	"time"

	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
)

// ImagePart is one inline image found in a remote response, in response order.
type ImagePart struct {
	MIMEType string
	Data     []byte
}

// Extraction is the normalized content of one remote response.
type Extraction struct {
	// Images are the inline image parts in order. The last one is the final
	// image; earlier ones are thought images.
	Images   []ImagePart
	Metadata model.ResponseMetadata
	// BlockReason is set when the prompt was rejected by a safety filter.
	BlockReason string
}

// HasImage reports whether the response contained at least one image.
func (e *Extraction) HasImage() bool {
	return e != nil && len(e.Images) > 0
}

// Final returns the final image part and its index.
func (e *Extraction) Final() (ImagePart, int) {
	last := len(e.Images) - 1
	return e.Images[last], last
}

// ImageGenerator is the synchronous remote generation call.
type ImageGenerator interface {
	// Generate sends one prompt and returns the extracted response.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   prompt: The final prompt text.
	//
	// Returns:
	//   *Extraction: The image parts and audit metadata.
	//   error: A classified remote error, or a transport error.
	Generate(ctx context.Context, prompt string) (*Extraction, error)
}

// RemoteJob is the handle and state of a remote batch job.
type RemoteJob struct {
	Name       string
	State      model.JobState
	RawState   string
	OutputFile string
	Error      string
}

// BatchService is the asynchronous remote job API.
type BatchService interface {
	// UploadJSONL uploads a request file and returns its remote file name.
	UploadJSONL(ctx context.Context, displayName string, r io.Reader) (string, error)
	// CreateBatch starts a job over an uploaded request file.
	CreateBatch(ctx context.Context, inputFile, displayName string) (*RemoteJob, error)
	// GetBatch returns the current state of a job.
	GetBatch(ctx context.Context, jobName string) (*RemoteJob, error)
	// DownloadFile returns the content of a remote output file.
	DownloadFile(ctx context.Context, fileName string) ([]byte, error)
}

// RemoteFile is one file held by the remote Files API.
type RemoteFile struct {
	Name           string
	DisplayName    string
	SizeBytes      int64
	CreateTime     time.Time
	ExpirationTime time.Time
}

// FileService manages files uploaded to or produced by the remote service.
type FileService interface {
	// ListFiles returns every remote file of the account.
	ListFiles(ctx context.Context) ([]RemoteFile, error)
	// DeleteFile removes one remote file by resource name.
	DeleteFile(ctx context.Context, name string) error
}

// ResponseDecoder turns one raw response object into an Extraction.
type ResponseDecoder interface {
	Decode(raw []byte) (*Extraction, error)
}

// ItemListener observes the execution of individual plan items.
type ItemListener interface {
	// BeforeItem is called before an item is executed.
	BeforeItem(ctx context.Context, item *model.PlanItem)
	// AfterItem is called with the terminal record of the item.
	AfterItem(ctx context.Context, record *model.ManifestRecord, elapsed time.Duration)
	// OnRetry is called before a failed remote call is retried.
	OnRetry(ctx context.Context, item *model.PlanItem, attempt int, errType model.ErrorType, delay time.Duration)
	// OnSkip is called when an item is skipped because it is already completed.
	OnSkip(ctx context.Context, item *model.PlanItem)
}

// RunListener observes a whole run (a generate call or a batch operation).
type RunListener interface {
	BeforeRun(ctx context.Context, operation string, planName string)
	AfterRun(ctx context.Context, operation string, planName string, summary model.RunSummary, err error)
}
