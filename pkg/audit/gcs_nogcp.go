//go:build !gcp

package audit

import (
	"context"
	"fmt"
)

func newGCSSink(ctx context.Context, bucket string) (Sink, error) {
	return nil, fmt.Errorf("GCS archive is not enabled in this build (use -tags gcp)")
}
