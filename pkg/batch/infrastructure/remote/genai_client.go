// Package remote adapts the Gemini API (google.golang.org/genai) to the
// generation and batch ports.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"google.golang.org/genai"

	port "github.com/tigerroll/serendip/pkg/batch/core/application/port"
	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	exception "github.com/tigerroll/serendip/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/serendip/pkg/batch/support/util/logger"
)

const (
	// ResponseModalityImage asks the model for image parts.
	ResponseModalityImage = "IMAGE"
	// JSONLMIMEType is the MIME type of batch request files.
	JSONLMIMEType = "application/jsonl"
)

// GenAIClient calls the Gemini API for synchronous generation, batch jobs and files.
type GenAIClient struct {
	client *genai.Client
	model  string
	reader port.ResponseDecoder
}

var (
	_ port.ImageGenerator = (*GenAIClient)(nil)
	_ port.BatchService   = (*GenAIClient)(nil)
	_ port.FileService    = (*GenAIClient)(nil)
)

// NewGenAIClient creates a client for the Gemini Developer API.
func NewGenAIClient(ctx context.Context, apiKey, modelName string, reader port.ResponseDecoder) (*GenAIClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, exception.NewBatchError("remote", "failed to create genai client", err, false)
	}
	if reader == nil {
		reader = NewJSONResponseReader()
	}
	return &GenAIClient{client: client, model: modelName, reader: reader}, nil
}

// Generate implements port.ImageGenerator. The requested resolution is not
// sent; the image model rejects media resolution settings.
func (c *GenAIClient) Generate(ctx context.Context, prompt string) (*port.Extraction, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseModalities: []string{ResponseModalityImage},
	})
	if err != nil {
		return nil, wrapAPIError(err)
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize response: %w", err)
	}
	return c.reader.Decode(raw)
}

// UploadJSONL implements port.BatchService.
func (c *GenAIClient) UploadJSONL(ctx context.Context, displayName string, r io.Reader) (string, error) {
	file, err := c.client.Files.Upload(ctx, r, &genai.UploadFileConfig{
		MIMEType:    JSONLMIMEType,
		DisplayName: displayName,
	})
	if err != nil {
		return "", wrapAPIError(err)
	}
	logger.Debugf("Uploaded batch input '%s' as %s.", displayName, file.Name)
	return file.Name, nil
}

// CreateBatch implements port.BatchService.
func (c *GenAIClient) CreateBatch(ctx context.Context, inputFile, displayName string) (*port.RemoteJob, error) {
	job, err := c.client.Batches.Create(ctx, c.model, &genai.BatchJobSource{FileName: inputFile}, &genai.CreateBatchJobConfig{
		DisplayName: displayName,
	})
	if err != nil {
		return nil, wrapAPIError(err)
	}
	return toRemoteJob(job), nil
}

// GetBatch implements port.BatchService.
func (c *GenAIClient) GetBatch(ctx context.Context, jobName string) (*port.RemoteJob, error) {
	job, err := c.client.Batches.Get(ctx, jobName, nil)
	if err != nil {
		return nil, wrapAPIError(err)
	}
	return toRemoteJob(job), nil
}

// DownloadFile implements port.BatchService.
func (c *GenAIClient) DownloadFile(ctx context.Context, fileName string) ([]byte, error) {
	data, err := c.client.Files.Download(ctx, genai.NewDownloadURIFromFile(&genai.File{Name: fileName}), nil)
	if err != nil {
		return nil, wrapAPIError(err)
	}
	return data, nil
}

// ListFiles implements port.FileService. It follows every page of the listing.
func (c *GenAIClient) ListFiles(ctx context.Context) ([]port.RemoteFile, error) {
	var out []port.RemoteFile
	for file, err := range c.client.Files.All(ctx) {
		if err != nil {
			return out, wrapAPIError(err)
		}
		out = append(out, toRemoteFile(file))
	}
	return out, nil
}

// DeleteFile implements port.FileService.
func (c *GenAIClient) DeleteFile(ctx context.Context, name string) error {
	if _, err := c.client.Files.Delete(ctx, name, nil); err != nil {
		return wrapAPIError(err)
	}
	return nil
}

func toRemoteFile(file *genai.File) port.RemoteFile {
	out := port.RemoteFile{
		Name:           file.Name,
		DisplayName:    file.DisplayName,
		CreateTime:     file.CreateTime,
		ExpirationTime: file.ExpirationTime,
	}
	if file.SizeBytes != nil {
		out.SizeBytes = *file.SizeBytes
	}
	return out
}

func toRemoteJob(job *genai.BatchJob) *port.RemoteJob {
	out := &port.RemoteJob{
		Name:     job.Name,
		RawState: string(job.State),
		State:    model.ParseJobState(string(job.State)),
	}
	if job.Dest != nil {
		out.OutputFile = job.Dest.FileName
	}
	if job.Error != nil {
		out.Error = job.Error.Message
	}
	return out
}

// wrapAPIError converts genai.APIError into exception.RemoteError so the
// classifier sees its status code.
func wrapAPIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w", &exception.RemoteError{Code: apiErr.Code, Status: apiErr.Status, Message: apiErr.Message})
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return fmt.Errorf("%w", &exception.RemoteError{Code: apiErrPtr.Code, Status: apiErrPtr.Status, Message: apiErrPtr.Message})
	}
	return err
}

// ErrUnavailable is returned by UnavailableClient.
var ErrUnavailable = errors.New("remote client is not configured (dry-run or missing API key)")

// UnavailableClient stands in for GenAIClient when remote calls are disabled.
// Its errors wrap ErrUnavailable and are never retried.
type UnavailableClient struct{}

func unavailable() error {
	return exception.NewBatchError("remote", "remote call refused", ErrUnavailable, false)
}

var (
	_ port.ImageGenerator = UnavailableClient{}
	_ port.BatchService   = UnavailableClient{}
	_ port.FileService    = UnavailableClient{}
)

func (UnavailableClient) Generate(context.Context, string) (*port.Extraction, error) {
	return nil, unavailable()
}

func (UnavailableClient) UploadJSONL(context.Context, string, io.Reader) (string, error) {
	return "", unavailable()
}

func (UnavailableClient) CreateBatch(context.Context, string, string) (*port.RemoteJob, error) {
	return nil, unavailable()
}

func (UnavailableClient) GetBatch(context.Context, string) (*port.RemoteJob, error) {
	return nil, unavailable()
}

func (UnavailableClient) DownloadFile(context.Context, string) ([]byte, error) {
	return nil, unavailable()
}

func (UnavailableClient) ListFiles(context.Context) ([]port.RemoteFile, error) {
	return nil, unavailable()
}

func (UnavailableClient) DeleteFile(context.Context, string) error {
	return unavailable()
}
