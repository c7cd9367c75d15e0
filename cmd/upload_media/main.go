package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"ark-mcp/internal/common"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// ErrorResult is the JSON response for errors
type ErrorResult struct {
	Error string `json:"error"`
}

func main() {
	defaults := common.LoadUploadConfig()

	serverURL := flag.String("server", defaults.ServerURL, "Server upload URL (e.g., http://localhost:8080/upload)")
	token := flag.String("token", defaults.Token, "Service token accepted by the server")
	timeout := flag.Duration("timeout", 5*time.Minute, "Request timeout")
	showVersion := flag.Bool("version", false, "Show version information")
	showHelp := flag.Bool("help", false, "Show help")

	flag.Parse()

	if *showVersion {
		fmt.Printf("upload_media version %s\n", version)
		fmt.Printf("Build time: %s\n", buildTime)
		fmt.Printf("Git commit: %s\n", gitCommit)
		os.Exit(0)
	}

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) != 1 {
		printUsage()
		os.Exit(1)
	}

	config := &common.UploadConfig{ServerURL: *serverURL, Token: *token}
	if err := config.Validate(); err != nil {
		outputError(err.Error())
		os.Exit(1)
	}

	respBody, err := upload(&http.Client{Timeout: *timeout}, config, args[0])
	if err != nil {
		outputError(err.Error())
		os.Exit(1)
	}

	// The server answer is already JSON.
	fmt.Println(string(respBody))
}

// upload posts filePath as the "file" part of a multipart form and returns
// the server's JSON answer.
func upload(client *http.Client, config *common.UploadConfig, filePath string) ([]byte, error) {
	if !filepath.IsAbs(filePath) {
		return nil, fmt.Errorf("file path must be absolute: %s", filePath)
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", filePath)
		}
		return nil, fmt.Errorf("cannot access file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", filePath)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to copy file data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish form: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, config.ServerURL, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+config.Token)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResult ErrorResult
		if json.Unmarshal(respBody, &errResult) == nil && errResult.Error != "" {
			return nil, fmt.Errorf("%s", errResult.Error)
		}
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `upload_media - Upload images or videos to an ark-mcp server

Usage:
  upload_media [--server <url>] [--token <token>] <file_path>
  upload_media -version
  upload_media -help

Flags:
  --server    Server upload URL (default: $ARK_MCP_UPLOAD_URL)
  --token     Service token (default: $ARK_MCP_UPLOAD_TOKEN)
  --timeout   Request timeout (default: 5m)

Arguments:
  <file_path>    Absolute path to the file to upload

Examples:
  upload_media --server "http://localhost:8080/upload" --token "abc123..." /Users/example/photo.png

Output:
  JSON object with file_id, download_url, mime_type, size, etc.
  Pass the file_id as the image parameter of image_to_image or image_to_video.
`)
}

func outputError(msg string) {
	result := ErrorResult{Error: msg}
	jsonBytes, _ := json.MarshalIndent(result, "", "  ")
	fmt.Fprintln(os.Stderr, string(jsonBytes))
}
