package syncer

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-resty/resty/v2"
)

// ReconcilePath path of the reconciliation endpoint
const ReconcilePath = "/api/notes"

// Reconciler submits a batch to the remote store
type Reconciler interface {
	/*
		Reconcile submit one batch

		The batch is accepted as a whole or not at all.

			@param ctx context.Context - execution context
			@param batch Batch - the batch
			@returns nil if accepted; otherwise an error wrapping ErrNetworkUnreachable or
			ErrServerRejected
	*/
	Reconcile(ctx context.Context, batch Batch) error
}

// HTTPReconcilerParams reconciliation client parameters
type HTTPReconcilerParams struct {
	// BaseURL server base URL
	BaseURL string `validate:"required,url"`
	// Timeout request timeout
	Timeout time.Duration `validate:"gt=0"`
	// Transport optional HTTP transport
	Transport http.RoundTripper `validate:"-"`
}

// httpReconciler implements Reconciler against the reconciliation endpoint
type httpReconciler struct {
	goutils.Component
	client *resty.Client
}

/*
NewHTTPReconciler define a reconciler calling POST /api/notes

	@param params HTTPReconcilerParams - client parameters
	@returns the reconciler
*/
func NewHTTPReconciler(params HTTPReconcilerParams) (Reconciler, error) {
	if err := validate.Struct(&params); err != nil {
		return nil, fmt.Errorf("reconciler parameters not valid [%w]", err)
	}

	client := resty.New().
		SetBaseURL(params.BaseURL).
		SetTimeout(params.Timeout).
		SetHeader("Content-Type", "application/json")
	if params.Transport != nil {
		client.SetTransport(params.Transport)
	}

	logTags := log.Fields{"module": "syncer", "component": "http-reconciler"}

	return &httpReconciler{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		client: client,
	}, nil
}

func (r *httpReconciler) Reconcile(ctx context.Context, batch Batch) error {
	logTags := r.GetLogTagsForContext(ctx)

	result := ReconcileResponse{}
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(batch).
		SetResult(&result).
		Post(ReconcilePath)
	if err != nil {
		return fmt.Errorf("%w [%w]", ErrNetworkUnreachable, err)
	}

	if !resp.IsSuccess() {
		log.WithFields(logTags).
			WithField("status", resp.StatusCode()).
			WithField("body", resp.String()).
			Debug("Reconciliation endpoint returned failure")
		return fmt.Errorf("%w: status %d", ErrServerRejected, resp.StatusCode())
	}

	if !result.OK {
		return fmt.Errorf(
			"%w: status %d without acknowledgement", ErrServerRejected, resp.StatusCode(),
		)
	}

	return nil
}
