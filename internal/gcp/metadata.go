// Package gcp resolves the Google Cloud project and region the service runs in.
package gcp

import (
	"context"
	"strings"

	"cloud.google.com/go/compute/metadata"
	"go.uber.org/zap"
)

// DefaultRegion is used when neither the environment nor the metadata
// server provides a region.
const DefaultRegion = "us-west1"

// Metadata is resolved once at startup and passed by value afterwards.
type Metadata struct {
	ProjectID string
	Region    string
}

// Overrides are explicit values from the environment. Empty fields are
// looked up on the metadata server.
type Overrides struct {
	ProjectID string
	Region    string
}

// MetadataClient is the subset of *metadata.Client used here.
type MetadataClient interface {
	ProjectIDWithContext(ctx context.Context) (string, error)
	GetWithContext(ctx context.Context, suffix string) (string, error)
}

// NewMetadataClient returns a client for the GCE metadata server.
func NewMetadataClient() MetadataClient {
	return metadata.NewClient(nil)
}

// Resolve determines the project and region. Lookup failures are logged and
// replaced by fallbacks: an empty project id and DefaultRegion.
func Resolve(ctx context.Context, env Overrides, client MetadataClient, logger *zap.Logger) Metadata {
	md := Metadata{ProjectID: env.ProjectID, Region: env.Region}

	if md.ProjectID == "" {
		pid, err := client.ProjectIDWithContext(ctx)
		if err != nil {
			logger.Warn("Project id not available from metadata server", zap.Error(err))
		} else {
			md.ProjectID = pid
		}
	}

	if md.Region == "" {
		region, err := client.GetWithContext(ctx, "instance/region")
		if err != nil || region == "" {
			logger.Warn("Region not available from metadata server, using default",
				zap.String("region", DefaultRegion), zap.Error(err))
			md.Region = DefaultRegion
		} else {
			md.Region = lastSegment(region)
		}
	}

	logger.Info("Resolved Google Cloud metadata",
		zap.String("project_id", md.ProjectID),
		zap.String("region", md.Region),
	)
	return md
}

// lastSegment trims a fully qualified name such as
// projects/<number>/regions/<region> to its final path element.
func lastSegment(s string) string {
	if pos := strings.LastIndex(s, "/"); pos >= 0 {
		return s[pos+1:]
	}
	return s
}
