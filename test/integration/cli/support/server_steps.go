package support

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/MeKo-Tech/rekap/internal/server"
	"github.com/MeKo-Tech/rekap/internal/testutil"
)

func (testCtx *TestContext) theJobAPIIsRunning() error {
	return testCtx.startJobAPI(server.RateLimitConfig{})
}

func (testCtx *TestContext) theJobAPIAllowsJobsPerMinute(n int) error {
	return testCtx.startJobAPI(server.RateLimitConfig{JobsPerMinute: n})
}

func (testCtx *TestContext) startJobAPI(rl server.RateLimitConfig) error {
	if testCtx.HTTPTestServer != nil {
		return fmt.Errorf("job API already running")
	}
	testCtx.HTTPTestServer = NewHTTPTestServer(testCtx.TempDir, rl)
	return nil
}

func (testCtx *TestContext) theVisionModelIsUnavailable() error {
	if testCtx.HTTPTestServer == nil {
		return fmt.Errorf("job API not running")
	}
	testCtx.HTTPTestServer.Model.SetFailing(true)
	return nil
}

// aDocumentWithPages writes a scanned PDF of n blank pages.
func (testCtx *TestContext) aDocumentWithPages(name string, n int) error {
	dir := testCtx.TempPath("pages-" + strings.TrimSuffix(name, filepath.Ext(name)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	imgs := make([]string, 0, n)
	for i := range n {
		path := filepath.Join(dir, fmt.Sprintf("page-%02d.png", i+1))
		if err := imaging.Save(testutil.PageImage(200, 280), path); err != nil {
			return fmt.Errorf("write page image: %w", err)
		}
		imgs = append(imgs, path)
	}
	conf := model.NewDefaultConfiguration()
	return api.ImportImagesFile(imgs, testCtx.TempPath(name), pdfcpu.DefaultImportConfig(), conf)
}

// aScannedImage writes a single recap page image.
func (testCtx *TestContext) aScannedImage(name string) error {
	return imaging.Save(testutil.PageImage(200, 280), testCtx.TempPath(name))
}

func (testCtx *TestContext) aTextFile(name string) error {
	return os.WriteFile(testCtx.TempPath(name), []byte("not a recap"), 0o600)
}

func (testCtx *TestContext) iUploadAsJob(name, jobID string) error {
	return testCtx.upload(name, map[string]string{"job_id": jobID})
}

func (testCtx *TestContext) iUpload(name string) error {
	return testCtx.upload(name, nil)
}

func (testCtx *TestContext) upload(name string, fields map[string]string) error {
	if testCtx.HTTPTestServer == nil {
		return fmt.Errorf("job API not running")
	}
	content, err := os.ReadFile(testCtx.TempPath(name))
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := part.Write(content); err != nil {
		return err
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, testCtx.HTTPTestServer.URL("/v1/jobs"), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if err := testCtx.do(req); err != nil {
		return err
	}

	var accepted server.JobResponse
	if testCtx.LastHTTPStatusCode == http.StatusAccepted {
		if err := json.Unmarshal([]byte(testCtx.LastHTTPResponse), &accepted); err != nil {
			return fmt.Errorf("decode job response: %w", err)
		}
		testCtx.LastJobID = accepted.JobID
	}
	return nil
}

func (testCtx *TestContext) iGET(path string) error {
	if testCtx.HTTPTestServer == nil {
		return fmt.Errorf("job API not running")
	}
	path = strings.ReplaceAll(path, "{job}", testCtx.LastJobID)
	req, err := http.NewRequest(http.MethodGet, testCtx.HTTPTestServer.URL(path), nil)
	if err != nil {
		return err
	}
	return testCtx.do(req)
}

func (testCtx *TestContext) do(req *http.Request) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = string(data)
	testCtx.LastHTTPHeaders = map[string]string{}
	for k := range resp.Header {
		testCtx.LastHTTPHeaders[k] = resp.Header.Get(k)
	}
	return nil
}

func (testCtx *TestContext) theResponseStatusShouldBe(status int) error {
	if testCtx.LastHTTPStatusCode != status {
		return fmt.Errorf("expected status %d, got %d: %s", status, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseFieldShouldBe(field, want string) error {
	var body map[string]any
	if err := json.Unmarshal([]byte(testCtx.LastHTTPResponse), &body); err != nil {
		return fmt.Errorf("response is not a JSON object: %w", err)
	}
	got, ok := body[field]
	if !ok {
		return fmt.Errorf("response has no field %q: %s", field, testCtx.LastHTTPResponse)
	}
	if s := fmt.Sprint(got); s != want {
		return fmt.Errorf("field %q: expected %q, got %q", field, want, s)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(fragment string) error {
	if !strings.Contains(testCtx.LastHTTPResponse, fragment) {
		return fmt.Errorf("response does not contain %q: %s", fragment, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldBe(name, want string) error {
	if got := testCtx.LastHTTPHeaders[http.CanonicalHeaderKey(name)]; got != want {
		return fmt.Errorf("header %s: expected %q, got %q", name, want, got)
	}
	return nil
}

// theJobShouldFinishWithin polls the result endpoint until it stops answering 202.
func (testCtx *TestContext) theJobShouldFinishWithin(seconds int) error {
	deadline := time.Now().Add(time.Duration(seconds) * time.Second)
	for {
		if err := testCtx.iGET("/v1/jobs/{job}/result"); err != nil {
			return err
		}
		if testCtx.LastHTTPStatusCode != http.StatusAccepted {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("job %s still running after %ds", testCtx.LastJobID, seconds)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func (testCtx *TestContext) theResultShouldHaveGroups(n int) error {
	res, err := testCtx.HTTPTestServer.Writer.Manifest(testCtx.LastJobID)
	if err != nil {
		return err
	}
	if len(res.Groups) != n {
		return fmt.Errorf("expected %d attachment groups, got %d", n, len(res.Groups))
	}
	return nil
}

func (testCtx *TestContext) theResultShouldAttachPages(n int) error {
	res, err := testCtx.HTTPTestServer.Writer.Manifest(testCtx.LastJobID)
	if err != nil {
		return err
	}
	if got := res.AttachedCount(); got != n {
		return fmt.Errorf("expected %d attached pages, got %d", n, got)
	}
	dir, err := testCtx.HTTPTestServer.Writer.JobDir(testCtx.LastJobID)
	if err != nil {
		return err
	}
	for _, g := range res.Groups {
		for _, p := range g.Pages {
			if p.File == "" || !testutil.FileExists(filepath.Join(dir, p.File)) {
				return fmt.Errorf("attached page %s has no file on disk", p.Identifier)
			}
		}
	}
	return nil
}

func (testCtx *TestContext) theJobOutputShouldInclude(name string) error {
	dir, err := testCtx.HTTPTestServer.Writer.JobDir(testCtx.LastJobID)
	if err != nil {
		return err
	}
	if !testutil.FileExists(filepath.Join(dir, name)) {
		return fmt.Errorf("job output %s missing in %s", name, dir)
	}
	return nil
}

// RegisterServerSteps registers the job API steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the job API is running$`, testCtx.theJobAPIIsRunning)
	sc.Step(`^the job API allows (\d+) jobs? per minute$`, testCtx.theJobAPIAllowsJobsPerMinute)
	sc.Step(`^the vision model is unavailable$`, testCtx.theVisionModelIsUnavailable)
	sc.Step(`^a scanned document "([^"]*)" with (\d+) pages$`, testCtx.aDocumentWithPages)
	sc.Step(`^a scanned image "([^"]*)"$`, testCtx.aScannedImage)
	sc.Step(`^a text file "([^"]*)"$`, testCtx.aTextFile)
	sc.Step(`^I upload "([^"]*)" as job "([^"]*)"$`, testCtx.iUploadAsJob)
	sc.Step(`^I upload "([^"]*)"$`, testCtx.iUpload)
	sc.Step(`^I GET "([^"]*)"$`, testCtx.iGET)
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseFieldShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseHeaderShouldBe)
	sc.Step(`^the job should finish within (\d+) seconds$`, testCtx.theJobShouldFinishWithin)
	sc.Step(`^the result should have (\d+) attachment groups?$`, testCtx.theResultShouldHaveGroups)
	sc.Step(`^the result should attach (\d+) pages?$`, testCtx.theResultShouldAttachPages)
	sc.Step(`^the job output should include "([^"]*)"$`, testCtx.theJobOutputShouldInclude)
}
