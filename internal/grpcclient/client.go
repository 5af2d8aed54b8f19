package grpcclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/idcheck/internal/classifier"
	"github.com/example/idcheck/internal/logging"
)

// ClassifyMethod is the unary RPC served by the remote model. Requests and
// responses are google.protobuf.Struct documents:
//
//	request:  {"image_png": "<base64>"}
//	response: {"label": "genuine", "probabilities": {"fake": 0.01, ...}}
const ClassifyMethod = "/idcheck.v1.Classifier/Classify"

// DialClassifier returns a ready-to-use gRPC classifier client.
func DialClassifier(ctx context.Context, addr string, logger *zap.Logger) (classifier.Client, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_classifier", "", err)
		logger.Error("failed to dial classifier", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewClassifier(conn, logger), conn, nil
}

// NewClassifier wraps an existing connection.
func NewClassifier(conn grpc.ClientConnInterface, logger *zap.Logger) classifier.Client {
	return &grpcClassifier{conn: conn, logger: logger}
}

type grpcClassifier struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

func (g *grpcClassifier) Classify(ctx context.Context, img image.Image) (*classifier.Result, error) {
	req, err := encodeRequest(img)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", classifier.ErrClassification, err)
	}

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, ClassifyMethod, req, resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.classify", "", err)
		g.logger.Error("classifier call failed", zap.Error(wrapped))
		return nil, fmt.Errorf("%w: %w", classifier.ErrClassification, wrapped)
	}
	return decodeResponse(resp)
}

func encodeRequest(img image.Image) (*structpb.Struct, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return structpb.NewStruct(map[string]any{
		"image_png": base64.StdEncoding.EncodeToString(buf.Bytes()),
	})
}

func decodeResponse(resp *structpb.Struct) (*classifier.Result, error) {
	fields := resp.GetFields()
	label := fields["label"].GetStringValue()
	probs := fields["probabilities"].GetStructValue()
	if label == "" || probs == nil {
		return nil, fmt.Errorf("%w: malformed classifier response", classifier.ErrClassification)
	}

	res := &classifier.Result{Label: label, Probabilities: make(map[string]float64, len(probs.GetFields()))}
	for k, v := range probs.GetFields() {
		if _, ok := v.GetKind().(*structpb.Value_NumberValue); !ok {
			return nil, fmt.Errorf("%w: probability %q is not a number", classifier.ErrClassification, k)
		}
		res.Probabilities[k] = classifier.Round4(v.GetNumberValue())
	}
	if err := res.Validate(); err != nil {
		return nil, err
	}
	return res, nil
}
