// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

// Package fcclient provides a client for the HTTP API served by the
// firecracker VMM. The API is modeled on the firecracker swagger
// definition, every request body is validated against that definition
// before it is sent. The VMM listens on a local unix socket, so the
// configured HTTP client is expected to carry a transport that dials
// that socket; the host part of the request URL is a placeholder.
package fcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/go-openapi/strfmt"
)

const defaultBasePath = "http://localhost"

// Configuration carries the settings for a Firecracker client.
type Configuration struct {
	// BasePath is the URL prefix of every API request.
	BasePath string
	// HTTPClient is the client used to talk to the VMM. Callers set a
	// client whose transport dials the firecracker API socket.
	HTTPClient *http.Client
}

func NewConfiguration() *Configuration {
	return &Configuration{
		BasePath:   defaultBasePath,
		HTTPClient: http.DefaultClient,
	}
}

// Firecracker gives access to the firecracker API endpoints.
type Firecracker struct {
	Operations *OperationsService
}

func NewHTTPClient(cfg *Configuration) *Firecracker {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.BasePath == "" {
		cfg.BasePath = defaultBasePath
	}

	return &Firecracker{
		Operations: &OperationsService{cfg: cfg},
	}
}

// APIError is returned when the VMM answers a request with a non
// successful HTTP status. Firecracker reports the failure reason as a
// fault message in the response body.
type APIError struct {
	StatusCode   int
	Status       string
	FaultMessage string
}

func (e *APIError) Error() string {
	if e.FaultMessage == "" {
		return fmt.Sprintf("firecracker API returned %s", e.Status)
	}
	return fmt.Sprintf("firecracker API returned %s: %s", e.Status, e.FaultMessage)
}

// OperationsService implements the API endpoints.
type OperationsService struct {
	cfg *Configuration
}

func (s *OperationsService) do(ctx context.Context, method, path string, body, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.cfg.BasePath+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
		}
		var fault struct {
			FaultMessage string `json:"fault_message"`
		}
		if json.Unmarshal(respBody, &fault) == nil && fault.FaultMessage != "" {
			apiErr.FaultMessage = fault.FaultMessage
		} else {
			apiErr.FaultMessage = string(respBody)
		}
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return err
		}
	}

	return nil
}

// DescribeInstance returns general information about an instance.
func (s *OperationsService) DescribeInstance(ctx context.Context) (InstanceInfo, error) {
	var info InstanceInfo
	err := s.do(ctx, http.MethodGet, "/", nil, &info)
	return info, err
}

// PutGuestBootSource creates or updates the boot source. Pre-boot only.
func (s *OperationsService) PutGuestBootSource(ctx context.Context, source BootSource) error {
	if err := source.Validate(strfmt.Default); err != nil {
		return err
	}
	return s.do(ctx, http.MethodPut, "/boot-source", source, nil)
}

// PutMachineConfiguration updates the machine configuration of the VM.
// Pre-boot only.
func (s *OperationsService) PutMachineConfiguration(ctx context.Context, config MachineConfiguration) error {
	if err := config.Validate(strfmt.Default); err != nil {
		return err
	}
	return s.do(ctx, http.MethodPut, "/machine-config", config, nil)
}

// PutGuestDriveByID creates or updates a drive. Pre-boot only.
func (s *OperationsService) PutGuestDriveByID(ctx context.Context, driveID string, drive Drive) error {
	if err := drive.Validate(strfmt.Default); err != nil {
		return err
	}
	return s.do(ctx, http.MethodPut, "/drives/"+url.PathEscape(driveID), drive, nil)
}

// PatchGuestDriveByID updates the properties of a drive. Post-boot only.
func (s *OperationsService) PatchGuestDriveByID(ctx context.Context, driveID string, drive PartialDrive) error {
	if err := drive.Validate(strfmt.Default); err != nil {
		return err
	}
	return s.do(ctx, http.MethodPatch, "/drives/"+url.PathEscape(driveID), drive, nil)
}

// PutGuestNetworkInterfaceByID creates or replaces a network interface.
func (s *OperationsService) PutGuestNetworkInterfaceByID(ctx context.Context, ifaceID string, iface NetworkInterface) error {
	if err := iface.Validate(strfmt.Default); err != nil {
		return err
	}
	return s.do(ctx, http.MethodPut, "/network-interfaces/"+url.PathEscape(ifaceID), iface, nil)
}

// PutGuestVsock creates or updates the vsock device. Pre-boot only.
func (s *OperationsService) PutGuestVsock(ctx context.Context, vsock Vsock) error {
	if err := vsock.Validate(strfmt.Default); err != nil {
		return err
	}
	return s.do(ctx, http.MethodPut, "/vsock", vsock, nil)
}

// CreateSyncAction creates a synchronous action.
func (s *OperationsService) CreateSyncAction(ctx context.Context, info InstanceActionInfo) error {
	if err := info.Validate(strfmt.Default); err != nil {
		return err
	}
	return s.do(ctx, http.MethodPut, "/actions", info, nil)
}

// PutLogger initializes the logger by specifying a named pipe or a file
// for the logs output.
func (s *OperationsService) PutLogger(ctx context.Context, logger Logger) error {
	if err := logger.Validate(strfmt.Default); err != nil {
		return err
	}
	return s.do(ctx, http.MethodPut, "/logger", logger, nil)
}

// PutMetrics initializes the metrics system by specifying a named pipe
// or a file for the metrics output.
func (s *OperationsService) PutMetrics(ctx context.Context, metrics Metrics) error {
	if err := metrics.Validate(strfmt.Default); err != nil {
		return err
	}
	return s.do(ctx, http.MethodPut, "/metrics", metrics, nil)
}
