// Command storage_smoke exercises a running file API end to end: upload,
// probe, fetch, conditional fetch and delete. Intended for deploy checks.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"
)

type check struct {
	Name     string
	Error    error
	Duration time.Duration
}

type uploadEnvelope struct {
	Data struct {
		File struct {
			ID         string `json:"id"`
			StorageKey string `json:"storageKey"`
			Backend    string `json:"backend"`
		} `json:"file"`
	} `json:"data"`
}

func main() {
	var (
		base      string
		prefix    string
		teacherID string
		timeout   time.Duration
	)

	flag.StringVar(&base, "base", "http://localhost:8080", "File API base URL")
	flag.StringVar(&prefix, "prefix", "/api/v1", "API prefix")
	flag.StringVar(&teacherID, "teacher", "smoke-test", "Teacher ID to upload as")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "HTTP client timeout")
	flag.Parse()

	client := &http.Client{Timeout: timeout}
	api := strings.TrimRight(base, "/") + prefix

	var checks []check
	run := func(name string, fn func() error) {
		start := time.Now()
		err := fn()
		checks = append(checks, check{Name: name, Error: err, Duration: time.Since(start)})
	}

	var fileID, storageKey, etag string

	run("upload", func() error {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		if err := writer.WriteField("teacherId", teacherID); err != nil {
			return err
		}
		part, err := writer.CreateFormFile("file", "smoke.txt")
		if err != nil {
			return err
		}
		if _, err := io.WriteString(part, "storage smoke check\n"); err != nil {
			return err
		}
		if err := writer.Close(); err != nil {
			return err
		}

		resp, err := client.Post(api+"/uploads", writer.FormDataContentType(), body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("expected 201, got %d", resp.StatusCode)
		}
		var envelope uploadEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return err
		}
		fileID = envelope.Data.File.ID
		storageKey = envelope.Data.File.StorageKey
		if fileID == "" || storageKey == "" {
			return fmt.Errorf("upload response missing file identity")
		}
		return nil
	})

	run("head", func() error {
		resp, err := client.Head(fmt.Sprintf("%s/files/%s?ownerId=%s", api, storageKey, teacherID))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("expected 200, got %d", resp.StatusCode)
		}
		etag = resp.Header.Get("ETag")
		if etag == "" {
			return fmt.Errorf("missing ETag header")
		}
		return nil
	})

	run("fetch", func() error {
		resp, err := client.Get(fmt.Sprintf("%s/files/%s?ownerId=%s", api, storageKey, teacherID))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("expected 200, got %d", resp.StatusCode)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if !strings.Contains(string(data), "storage smoke check") {
			return fmt.Errorf("body mismatch")
		}
		return nil
	})

	run("conditional fetch", func() error {
		req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/files/%s?ownerId=%s", api, storageKey, teacherID), nil)
		if err != nil {
			return err
		}
		req.Header.Set("If-None-Match", etag)
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNotModified {
			return fmt.Errorf("expected 304, got %d", resp.StatusCode)
		}
		return nil
	})

	run("delete", func() error {
		req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/uploads/%s?teacherId=%s", api, fileID, teacherID), nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			return fmt.Errorf("expected 204, got %d", resp.StatusCode)
		}
		return nil
	})

	run("fetch after delete", func() error {
		resp, err := client.Get(fmt.Sprintf("%s/files/%s?ownerId=%s", api, storageKey, teacherID))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			return fmt.Errorf("expected 404, got %d", resp.StatusCode)
		}
		return nil
	})

	failed := 0
	fmt.Println("Storage Smoke Report")
	fmt.Println("====================")
	for _, c := range checks {
		status := "OK"
		if c.Error != nil {
			status = "FAIL"
			failed++
		}
		fmt.Printf("[%s] %s (%s)\n", status, c.Name, c.Duration)
		if c.Error != nil {
			fmt.Printf("  Error: %v\n", c.Error)
		}
	}
	if failed > 0 {
		log.Printf("%d of %d checks failed", failed, len(checks))
		os.Exit(1)
	}
	fmt.Printf("All %d checks passed\n", len(checks))
}
