package support

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/vidocr/internal/lineage"
	"github.com/MeKo-Tech/vidocr/internal/pipeline"
	"github.com/MeKo-Tech/vidocr/internal/stage"
	"github.com/MeKo-Tech/vidocr/internal/store"
	"github.com/MeKo-Tech/vidocr/internal/testutil"
)

// Register binds every step of the suite to w.
func (w *World) Register(sc *godog.ScenarioContext) {
	sc.Step(`^a pipeline server backed by SQLite$`, w.start)
	sc.Step(`^the recognizer reads "([^"]*)"$`, w.theRecognizerReads)
	sc.Step(`^the object detector finds (\d+) plates?$`, w.theObjectDetectorFinds)
	sc.Step(`^the region detector finds a region in crop (\d+) only$`, w.regionInCropOnly)
	sc.Step(`^the region detector finds a region in every crop$`, w.regionInEveryCrop)
	sc.Step(`^the file behind preprocessed image (\d+) disappears before refine$`, w.fileDisappearsBeforeRefine)

	sc.Step(`^I upload "([^"]*)" to "([^"]*)"$`, w.iUpload)
	sc.Step(`^I post to "([^"]*)" without a file$`, w.iPostWithoutFile)
	sc.Step(`^I post (.+) to "([^"]*)"$`, w.iPostJSON)
	sc.Step(`^I run stage "([^"]*)" on the returned id$`, w.iRunStageOnReturnedID)

	sc.Step(`^the response status should be (\d+)$`, w.theResponseStatusShouldBe)
	sc.Step(`^the run should have completed$`, w.theRunShouldHaveCompleted)
	sc.Step(`^the run should have failed at "([^"]*)" with "([^"]*)"$`, w.theRunShouldHaveFailedAt)
	sc.Step(`^the final texts should be "([^"]*)"$`, w.theFinalTextsShouldBe)
	sc.Step(`^the final texts should be empty$`, w.theFinalTextsShouldBeEmpty)
	sc.Step(`^the returned text should be "([^"]*)"$`, w.theReturnedTextShouldBe)
	sc.Step(`^the lineage of the video should hold:$`, w.theLineageShouldHold)
	sc.Step(`^the lineage should verify$`, w.theLineageShouldVerify)
	sc.Step(`^no video should be stored$`, w.noVideoShouldBeStored)
	sc.Step(`^no artifact files should exist$`, w.noArtifactFilesShouldExist)
	sc.Step(`^the (region detector|recognizer) should not have been called$`, w.shouldNotHaveBeenCalled)
}

func (w *World) theRecognizerReads(text string) error {
	w.texts.Texts = []string{text}
	return nil
}

// theObjectDetectorFinds scripts n plates side by side on the single frame.
func (w *World) theObjectDetectorFinds(n int) error {
	dets := make([]lineage.Detection, 0, n)
	for i := range n {
		x := float64(10 + 50*i)
		dets = append(dets, testutil.Det(x, 40, x+40, 70, 0, 0.9))
	}
	w.objects.Script = [][]lineage.Detection{dets}
	return nil
}

func (w *World) regionInCropOnly(crop int) error {
	if crop < 1 {
		return fmt.Errorf("crops are numbered from 1, got %d", crop)
	}
	script := make([][]lineage.Detection, crop)
	script[crop-1] = []lineage.Detection{testutil.Det(2, 2, 30, 20, 0, 0.8)}
	w.regions.Script = script
	return nil
}

func (w *World) regionInEveryCrop() error {
	script := make([][]lineage.Detection, 16)
	for i := range script {
		script[i] = []lineage.Detection{testutil.Det(2, 2, 30, 20, 0, 0.8)}
	}
	w.regions.Script = script
	return nil
}

func (w *World) fileDisappearsBeforeRefine(n int) error {
	w.beforeRefine = func(ctx context.Context, index int, id int64) {
		if index != n-1 {
			return
		}
		if pre, err := w.store.PreprocessedImage(ctx, id); err == nil {
			_ = os.Remove(pre.OutputPath)
		}
	}
	return nil
}

func (w *World) iUpload(name, path string) error {
	var frame bytes.Buffer
	if err := png.Encode(&frame, testutil.GenerateFrame(testutil.DefaultFrameConfig())); err != nil {
		return err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := part.Write(frame.Bytes()); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}
	return w.post(path, mw.FormDataContentType(), &body)
}

func (w *World) iPostWithoutFile(path string) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("note", "no file here"); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}
	return w.post(path, mw.FormDataContentType(), &body)
}

func (w *World) iPostJSON(body, path string) error {
	return w.post(path, "application/json", strings.NewReader(body))
}

func (w *World) iRunStageOnReturnedID(name string) error {
	if len(w.lastIDs) == 0 {
		return fmt.Errorf("previous response returned no ids: %s", w.lastBody)
	}
	body := fmt.Sprintf(`{"id": %d}`, w.lastIDs[0])
	if err := w.post("/stages/"+name, "application/json", strings.NewReader(body)); err != nil {
		return err
	}
	if w.lastStatus != http.StatusOK {
		return fmt.Errorf("stage %s answered %d: %s", name, w.lastStatus, w.lastBody)
	}
	return nil
}

// post sends a request and remembers the identifiers in the response, from
// either a stage result or a run result.
func (w *World) post(path, contentType string, body io.Reader) error {
	resp, err := http.Post(w.server.URL+path, contentType, body) //nolint:noctx
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	w.lastStatus = resp.StatusCode
	if w.lastBody, err = io.ReadAll(resp.Body); err != nil {
		return err
	}

	var envelope struct {
		IDs     []int64 `json:"ids"`
		Stage   string  `json:"stage"`
		VideoID int64   `json:"video_id"`
	}
	if err := json.Unmarshal(w.lastBody, &envelope); err != nil {
		return nil
	}
	w.lastIDs = envelope.IDs
	switch {
	case envelope.VideoID != 0:
		w.videoID = envelope.VideoID
	case envelope.Stage == string(lineage.StageIngest) && len(envelope.IDs) == 1:
		w.videoID = envelope.IDs[0]
	}
	return nil
}

func (w *World) theResponseStatusShouldBe(status int) error {
	if w.lastStatus != status {
		return fmt.Errorf("expected status %d, got %d: %s", status, w.lastStatus, w.lastBody)
	}
	return nil
}

func (w *World) runResult() (pipeline.Result, error) {
	var res pipeline.Result
	if err := json.Unmarshal(w.lastBody, &res); err != nil {
		return res, fmt.Errorf("response is not a run result: %w", err)
	}
	return res, nil
}

func (w *World) theRunShouldHaveCompleted() error {
	res, err := w.runResult()
	if err != nil {
		return err
	}
	if res.State != pipeline.StateCompleted || res.Status != "success" {
		return fmt.Errorf("run did not complete: %s", w.lastBody)
	}
	return nil
}

func (w *World) theRunShouldHaveFailedAt(stageName, code string) error {
	res, err := w.runResult()
	if err != nil {
		return err
	}
	if res.State != pipeline.StateFailed || string(res.StageFailed) != stageName || res.Code.String() != code {
		return fmt.Errorf("expected failure at %s with %s, got %s", stageName, code, w.lastBody)
	}
	return nil
}

func (w *World) finalTexts() ([]string, error) {
	res, err := w.runResult()
	if err != nil {
		return nil, err
	}
	if res.FinalPayload == nil {
		return nil, fmt.Errorf("run has no final payload: %s", w.lastBody)
	}
	return res.FinalPayload.Texts, nil
}

func (w *World) theFinalTextsShouldBe(joined string) error {
	texts, err := w.finalTexts()
	if err != nil {
		return err
	}
	if got := strings.Join(texts, ","); got != joined {
		return fmt.Errorf("expected texts %q, got %q", joined, got)
	}
	return nil
}

func (w *World) theFinalTextsShouldBeEmpty() error {
	texts, err := w.finalTexts()
	if err != nil {
		return err
	}
	if len(texts) != 0 {
		return fmt.Errorf("expected no texts, got %q", texts)
	}
	return nil
}

func (w *World) theReturnedTextShouldBe(text string) error {
	var res struct {
		Status   stage.Status             `json:"status"`
		Payloads []lineage.RecognizedText `json:"payloads"`
	}
	if err := json.Unmarshal(w.lastBody, &res); err != nil {
		return err
	}
	if len(res.Payloads) != 1 || res.Payloads[0].Text != text {
		return fmt.Errorf("expected one text %q, got %s", text, w.lastBody)
	}
	if _, err := os.Stat(res.Payloads[0].OutputPath); err != nil {
		return fmt.Errorf("text artifact: %w", err)
	}
	return nil
}

func (w *World) lineage() (*lineage.Chain, error) {
	if w.videoID == 0 {
		return nil, errors.New("no video was created in this scenario")
	}
	return w.store.Lineage(context.Background(), w.videoID)
}

func (w *World) theLineageShouldHold(table *godog.Table) error {
	chain, err := w.lineage()
	if err != nil {
		return err
	}
	counts := map[string]int{
		"batches":      len(chain.Batches),
		"crops":        len(chain.Crops),
		"preprocessed": len(chain.Preprocessed),
		"refined":      len(chain.Refined),
		"sharpened":    len(chain.Sharpened),
		"texts":        len(chain.Texts),
	}
	for _, row := range table.Rows[1:] {
		kind := row.Cells[0].Value
		want, err := strconv.Atoi(row.Cells[1].Value)
		if err != nil {
			return fmt.Errorf("count for %s: %w", kind, err)
		}
		got, ok := counts[kind]
		if !ok {
			return fmt.Errorf("unknown record kind %q", kind)
		}
		if got != want {
			return fmt.Errorf("expected %d %s records, got %d", want, kind, got)
		}
	}
	return nil
}

func (w *World) theLineageShouldVerify() error {
	chain, err := w.lineage()
	if err != nil {
		return err
	}
	return chain.Verify()
}

func (w *World) noVideoShouldBeStored() error {
	_, err := w.store.Video(context.Background(), 1)
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("expected no video, got err=%v", err)
	}
	return nil
}

func (w *World) noArtifactFilesShouldExist() error {
	if n := testutil.CountFiles(w.layout.Root); n != 0 {
		return fmt.Errorf("expected no artifacts, found %d files", n)
	}
	return nil
}

func (w *World) shouldNotHaveBeenCalled(collaborator string) error {
	calls := w.texts.Calls()
	if collaborator == "region detector" {
		calls = w.regions.Calls()
	}
	if calls != 0 {
		return fmt.Errorf("%s was called %d times", collaborator, calls)
	}
	return nil
}
