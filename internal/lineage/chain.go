package lineage

import "fmt"

// Chain is every record derived from one video.
type Chain struct {
	Video        Video               `json:"video" yaml:"video"`
	Batches      []DetectionBatch    `json:"detection_batches" yaml:"detection_batches"`
	Crops        []Crop              `json:"crops" yaml:"crops"`
	Preprocessed []PreprocessedImage `json:"preprocessed_images" yaml:"preprocessed_images"`
	Refined      []RefinedDetection  `json:"refined_detections" yaml:"refined_detections"`
	Sharpened    []SharpenedImage    `json:"sharpened_images" yaml:"sharpened_images"`
	Texts        []RecognizedText    `json:"recognized_texts" yaml:"recognized_texts"`
}

// Verify checks that every foreign key inside the chain resolves to a record
// of the same chain and that every record is rooted at the chain's video.
func (c *Chain) Verify() error {
	root := c.Video.ID
	check := func(kind string, id, videoID int64) error {
		if videoID != root {
			return fmt.Errorf("%s %d: video_id %d does not match root %d", kind, id, videoID, root)
		}
		return nil
	}

	batches := make(map[int64]bool, len(c.Batches))
	for _, b := range c.Batches {
		if err := check("detection batch", b.ID, b.VideoID); err != nil {
			return err
		}
		batches[b.ID] = true
	}

	crops := make(map[int64]Crop, len(c.Crops))
	for _, cr := range c.Crops {
		if err := check("crop", cr.ID, cr.VideoID); err != nil {
			return err
		}
		if !batches[cr.BatchID] {
			return fmt.Errorf("crop %d: dangling detection_batch_id %d", cr.ID, cr.BatchID)
		}
		crops[cr.ID] = cr
	}

	pre := make(map[int64]bool, len(c.Preprocessed))
	for _, p := range c.Preprocessed {
		if err := check("preprocessed image", p.ID, p.VideoID); err != nil {
			return err
		}
		if !batches[p.BatchID] {
			return fmt.Errorf("preprocessed image %d: dangling detection_batch_id %d", p.ID, p.BatchID)
		}
		crop, ok := crops[p.CropID]
		if !ok {
			return fmt.Errorf("preprocessed image %d: dangling crop_id %d", p.ID, p.CropID)
		}
		if crop.BatchID != p.BatchID {
			return fmt.Errorf("preprocessed image %d: crop %d belongs to batch %d, not %d",
				p.ID, crop.ID, crop.BatchID, p.BatchID)
		}
		pre[p.ID] = true
	}

	refined := make(map[int64]bool, len(c.Refined))
	for _, r := range c.Refined {
		if err := check("refined detection", r.ID, r.VideoID); err != nil {
			return err
		}
		if !pre[r.PreprocessedImageID] {
			return fmt.Errorf("refined detection %d: dangling preprocessed_image_id %d", r.ID, r.PreprocessedImageID)
		}
		refined[r.ID] = true
	}

	sharp := make(map[int64]bool, len(c.Sharpened))
	for _, s := range c.Sharpened {
		if err := check("sharpened image", s.ID, s.VideoID); err != nil {
			return err
		}
		if !refined[s.RefinedDetectionID] {
			return fmt.Errorf("sharpened image %d: dangling refined_detection_id %d", s.ID, s.RefinedDetectionID)
		}
		sharp[s.ID] = true
	}

	for _, t := range c.Texts {
		if err := check("recognized text", t.ID, t.VideoID); err != nil {
			return err
		}
		if !sharp[t.SharpenedImageID] {
			return fmt.Errorf("recognized text %d: dangling sharpened_image_id %d", t.ID, t.SharpenedImageID)
		}
	}

	return nil
}

// Counts returns the number of records per stage, keyed by the stage that
// wrote them. Crops are counted under the detect stage.
func (c *Chain) Counts() map[Stage]int {
	return map[Stage]int{
		StageIngest:      1,
		StageDetect:      len(c.Crops),
		StagePreprocessA: len(c.Preprocessed),
		StageRefine:      len(c.Refined),
		StagePreprocessB: len(c.Sharpened),
		StageRecognize:   len(c.Texts),
	}
}
