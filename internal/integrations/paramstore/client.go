package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ErrNotFound is returned when the parameter does not exist.
var ErrNotFound = errors.New("paramstore: parameter not found")

// tokenPayload is the JSON shape secrets may be stored in.
type tokenPayload struct {
	Token string `json:"token"`
}

// Client wraps an AWS SSM API for secret retrieval.
type Client struct {
	api ssmAPI
}

// New creates a Client with the given SSM API implementation.
func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

// GetParameter returns the decrypted raw value of name.
func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		var nf *types.ParameterNotFound
		if errors.As(err, &nf) {
			return "", fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	return *out.Parameter.Value, nil
}

// GetSecret returns the secret stored at name. Values stored as
// {"token":"..."} are unwrapped; anything else is returned trimmed.
func (c *Client) GetSecret(ctx context.Context, name string) (string, error) {
	raw, err := c.GetParameter(ctx, name)
	if err != nil {
		return "", err
	}
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var tp tokenPayload
		if err := json.Unmarshal([]byte(raw), &tp); err != nil {
			return "", fmt.Errorf("paramstore: unmarshal secret %q as JSON: %w", name, err)
		}
		raw = strings.TrimSpace(tp.Token)
	}
	if raw == "" {
		return "", fmt.Errorf("paramstore: secret %q is empty", name)
	}
	return raw, nil
}

// Fill resolves every empty target from prefix/<key>. Targets that already
// hold a value are left alone, and missing parameters are skipped.
func (c *Client) Fill(ctx context.Context, prefix string, targets map[string]*string) error {
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return errors.New("paramstore: prefix must not be empty")
	}
	for key, dst := range targets {
		if dst == nil || strings.TrimSpace(*dst) != "" {
			continue
		}
		v, err := c.GetSecret(ctx, prefix+"/"+key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		*dst = v
	}
	return nil
}
