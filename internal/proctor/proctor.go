// Package proctor runs the pre-exam camera checks: capture a frame per
// expected pose, verify it is sharp enough, classify the pose, and hand
// the frames to the server for verification. Pose classification itself
// is an injected capability; this package only enforces the sequence and
// the no-silent-pass rule.
package proctor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"

	"github.com/rs/zerolog"

	"github.com/stemsi/voxexam-client/internal/api"
	"github.com/stemsi/voxexam-client/internal/apperr"
)

// Pose is an expected face orientation.
type Pose string

const (
	PoseFront Pose = "front"
	PoseLeft  Pose = "left"
	PoseRight Pose = "right"
)

// Sequence is the ordered set of poses a candidate must pass.
var Sequence = []Pose{PoseFront, PoseLeft, PoseRight}

// PoseClassifier decides whether an image shows the expected pose.
type PoseClassifier interface {
	Classify(img image.Image, expected Pose) (bool, error)
}

// ClarityChecker decides whether an image is sharp enough to evaluate.
type ClarityChecker interface {
	IsClear(img image.Image) (bool, error)
}

// FrameSource captures one camera frame.
type FrameSource interface {
	Capture(ctx context.Context) (image.Image, error)
}

// Uploader is the REST surface used to hand frames to the server.
type Uploader interface {
	UploadVerificationImage(ctx context.Context, testID, position string, image []byte) error
	VerifyImages(ctx context.Context, testID string) (*api.VerifyResponse, error)
}

// Checker drives the pose verification sequence.
type Checker struct {
	frames  FrameSource
	poses   PoseClassifier
	clarity ClarityChecker
	api     Uploader
	log     zerolog.Logger
}

// NewChecker wires the injected capabilities together.
func NewChecker(frames FrameSource, poses PoseClassifier, clarity ClarityChecker, uploader Uploader, log zerolog.Logger) *Checker {
	return &Checker{
		frames:  frames,
		poses:   poses,
		clarity: clarity,
		api:     uploader,
		log:     log.With().Str("component", "proctor").Logger(),
	}
}

// CheckPose captures and validates a single pose, then uploads the
// frame. A failed clarity or pose check blocks with a retryable error;
// there is no silent pass.
func (c *Checker) CheckPose(ctx context.Context, testID string, pose Pose) error {
	img, err := c.frames.Capture(ctx)
	if err != nil {
		return apperr.New(apperr.CodeInternal, err)
	}

	clear, err := c.clarity.IsClear(img)
	if err != nil {
		return apperr.New(apperr.CodeImageUnclear, err)
	}
	if !clear {
		return apperr.New(apperr.CodeImageUnclear, errors.New("image failed clarity check"))
	}

	ok, err := c.poses.Classify(img, pose)
	if err != nil {
		return apperr.New(apperr.CodePoseRejected, err)
	}
	if !ok {
		return apperr.New(apperr.CodePoseRejected, errors.New("pose mismatch: "+string(pose)))
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return apperr.New(apperr.CodeInternal, err)
	}
	if err := c.api.UploadVerificationImage(ctx, testID, string(pose), buf.Bytes()); err != nil {
		return err
	}

	c.log.Info().Str("pose", string(pose)).Msg("Pose accepted and uploaded")
	return nil
}

// RunSequence validates and uploads every pose in order, then asks the
// server for the aggregate verdict. Any failed result blocks progression.
func (c *Checker) RunSequence(ctx context.Context, testID string) error {
	for _, pose := range Sequence {
		if err := c.CheckPose(ctx, testID, pose); err != nil {
			return err
		}
	}

	resp, err := c.api.VerifyImages(ctx, testID)
	if err != nil {
		return err
	}
	for _, r := range resp.Results {
		if !r.Passed {
			return apperr.New(apperr.CodePoseRejected, errors.New("server rejected pose image")).
				WithServerMessage(resp.Message)
		}
	}

	c.log.Info().Msg("Pose verification passed")
	return nil
}
