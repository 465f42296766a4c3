package stage

import (
	"context"
	"log/slog"

	"github.com/MeKo-Tech/vidocr/internal/lineage"
	"github.com/MeKo-Tech/vidocr/internal/store"
	"github.com/MeKo-Tech/vidocr/internal/utils"
)

// Recognize reads the text of one sharpened image and stores it both as a
// .txt artifact and on the record.
type Recognize struct {
	base
	recognizer TextRecognizer
}

// NewRecognize creates the recognize executor.
func NewRecognize(st store.Store, layout Layout, r TextRecognizer) *Recognize {
	return &Recognize{base: base{stage: lineage.StageRecognize, store: st, layout: layout}, recognizer: r}
}

// Cardinality is ExactlyOne. Empty text is still a result.
func (e *Recognize) Cardinality() Cardinality { return ExactlyOne }

// Execute recognizes the sharpened image with the given id.
func (e *Recognize) Execute(ctx context.Context, sharpID int64) Result {
	if r, ok := e.validate("sharpened image", sharpID); !ok {
		return r
	}
	sharp, err := e.store.SharpenedImage(ctx, sharpID)
	if err != nil {
		return e.lookupFailed("sharpened image", sharpID, err)
	}
	if r, ok := e.checkFile("sharpened image", sharpID, sharp.OutputPath); !ok {
		return r
	}
	img, r, ok := e.loadImage(sharp.OutputPath)
	if !ok {
		return r
	}

	rec, err := e.recognizer.Recognize(ctx, img)
	if err != nil {
		return ProcessingError(e.stage, err)
	}

	path := e.layout.NewPath(e.stage, sharpID, ".txt")
	if err := utils.WriteFileSync(path, []byte(rec.Text)); err != nil {
		return ProcessingError(e.stage, err)
	}

	text := lineage.RecognizedText{
		VideoID:          sharp.VideoID,
		SharpenedImageID: sharpID,
		OutputPath:       path,
		Text:             rec.Text,
		RawText:          rec.RawText,
		Confidences:      rec.Confidences,
	}
	id, err := e.store.InsertRecognizedText(ctx, text)
	if err != nil {
		return e.recordFailed("recognized text", err, path)
	}
	text.ID = id

	slog.Info("Text recognized", "sharpened_image_id", sharpID, "id", id, "text", rec.Text,
		"confidence", rec.MeanConfidence())
	return Success(e.stage, []int64{id}, []any{text})
}
