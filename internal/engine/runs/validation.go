package runs

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/davidroman0O/pipelite/internal/types"
)

func checkCallbackURL(raw string) *types.ValidationError {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return types.NewValidationError("callback_url", "is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return types.NewValidationError("callback_url", "%q is not an absolute http or https url", raw)
	}
	return nil
}

func normalizeRunRequest(req types.PipelineRunRequest) ([]types.PipelineRunInput, string, error) {
	var errs types.ValidationErrors
	if err := checkCallbackURL(req.CallbackURL); err != nil {
		errs = append(errs, err)
	}

	inputs := make([]types.PipelineRunInput, 0, len(req.Inputs))
	for i, in := range req.Inputs {
		name := strings.TrimSpace(in.Name)
		link := strings.TrimSpace(in.URL)
		if name == "" {
			errs = append(errs, types.NewValidationError(fmt.Sprintf("inputs[%d].name", i), "is required"))
		}
		if link == "" {
			errs = append(errs, types.NewValidationError(fmt.Sprintf("inputs[%d].url", i), "is required"))
		}
		inputs = append(inputs, types.PipelineRunInput{Filename: name, URL: link})
	}

	if err := errs.OrNil(); err != nil {
		return nil, "", err
	}
	return inputs, strings.TrimSpace(req.CallbackURL), nil
}
