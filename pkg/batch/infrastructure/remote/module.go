package remote

import (
	"context"

	"go.uber.org/fx"

	port "github.com/tigerroll/serendip/pkg/batch/core/application/port"
	cfg "github.com/tigerroll/serendip/pkg/batch/core/config"
	logger "github.com/tigerroll/serendip/pkg/batch/support/util/logger"
)

// ClientParams holds the dependencies injected via DI.
type ClientParams struct {
	fx.In
	Config *cfg.Config
	Reader port.ResponseDecoder
}

// ClientResult exposes one client under every remote port.
type ClientResult struct {
	fx.Out
	Generator port.ImageGenerator
	Batches   port.BatchService
	Files     port.FileService
}

// NewClient builds the genai client. In dry-run mode, or without an API key,
// it returns an UnavailableClient; commands that need the remote service
// check the key themselves before starting.
func NewClient(p ClientParams) (ClientResult, error) {
	sc := p.Config.Serendip
	if sc.DryRun {
		logger.Infof("Dry-run: remote calls are disabled.")
		return ClientResult{Generator: UnavailableClient{}, Batches: UnavailableClient{}, Files: UnavailableClient{}}, nil
	}
	if p.Config.ResolveAPIKey() == "" {
		logger.Debugf("No API key: remote calls are disabled.")
		return ClientResult{Generator: UnavailableClient{}, Batches: UnavailableClient{}, Files: UnavailableClient{}}, nil
	}
	client, err := NewGenAIClient(context.Background(), p.Config.ResolveAPIKey(), sc.Model, p.Reader)
	if err != nil {
		return ClientResult{}, err
	}
	return ClientResult{Generator: client, Batches: client, Files: client}, nil
}

// Module provides the response reader and the remote client.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		func() *JSONResponseReader { return NewJSONResponseReader() },
		fx.As(new(port.ResponseDecoder)),
	)),
	fx.Provide(NewClient),
)
