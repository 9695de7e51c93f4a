// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

// Package chclient provides a client for the HTTP API served by the
// cloud-hypervisor VMM. The VMM listens on a local unix socket, so the
// configured HTTP client is expected to carry a transport that dials
// that socket; the host part of the request URL is a placeholder.
package chclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const defaultBasePath = "http://localhost/api/v1"

// Configuration carries the settings for an APIClient.
type Configuration struct {
	// BasePath is the URL prefix of every API request.
	BasePath string
	// HTTPClient is the client used to talk to the VMM. Callers set a
	// client whose transport dials the cloud-hypervisor API socket.
	HTTPClient *http.Client
}

func NewConfiguration() *Configuration {
	return &Configuration{
		BasePath:   defaultBasePath,
		HTTPClient: http.DefaultClient,
	}
}

// APIClient gives access to the cloud-hypervisor API endpoints.
type APIClient struct {
	DefaultApi *DefaultApiService
}

func NewAPIClient(cfg *Configuration) *APIClient {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.BasePath == "" {
		cfg.BasePath = defaultBasePath
	}

	return &APIClient{
		DefaultApi: &DefaultApiService{cfg: cfg},
	}
}

// APIError is returned when the VMM answers a request with a non
// successful HTTP status. The body is kept as sent by cloud-hypervisor,
// it usually carries the failure reason as plain text.
type APIError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cloud-hypervisor API returned %s: %s", e.Status, string(e.Body))
}

// DefaultApiService implements the API endpoints.
type DefaultApiService struct {
	cfg *Configuration
}

func (a *DefaultApiService) do(ctx context.Context, method, path string, body, result interface{}) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.cfg.BasePath+path, reqBody)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, err
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return resp, &APIError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       respBody,
		}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return resp, err
		}
	}

	return resp, nil
}

// VmmPingGet checks for the REST API availability.
func (a *DefaultApiService) VmmPingGet(ctx context.Context) (VmmPingResponse, *http.Response, error) {
	var pong VmmPingResponse
	resp, err := a.do(ctx, http.MethodGet, "/vmm.ping", nil, &pong)
	return pong, resp, err
}

// ShutdownVMM shuts the VMM down.
func (a *DefaultApiService) ShutdownVMM(ctx context.Context) (*http.Response, error) {
	return a.do(ctx, http.MethodPut, "/vmm.shutdown", nil, nil)
}

// CreateVM creates the VM from its configuration. The VM is not booted.
func (a *DefaultApiService) CreateVM(ctx context.Context, vmConfig VmConfig) (*http.Response, error) {
	return a.do(ctx, http.MethodPut, "/vm.create", vmConfig, nil)
}

// VmInfoGet dumps the VM information.
func (a *DefaultApiService) VmInfoGet(ctx context.Context) (VmInfo, *http.Response, error) {
	var info VmInfo
	resp, err := a.do(ctx, http.MethodGet, "/vm.info", nil, &info)
	return info, resp, err
}

// BootVM boots the previously created VM.
func (a *DefaultApiService) BootVM(ctx context.Context) (*http.Response, error) {
	return a.do(ctx, http.MethodPut, "/vm.boot", nil, nil)
}

// VmResizePut changes the number of vCPUs or the amount of RAM of the VM.
func (a *DefaultApiService) VmResizePut(ctx context.Context, vmResize VmResize) (*http.Response, error) {
	return a.do(ctx, http.MethodPut, "/vm.resize", vmResize, nil)
}

// VmAddDevicePut adds a VFIO PCI device to the VM.
func (a *DefaultApiService) VmAddDevicePut(ctx context.Context, vmAddDevice VmAddDevice) (PciDeviceInfo, *http.Response, error) {
	var info PciDeviceInfo
	resp, err := a.do(ctx, http.MethodPut, "/vm.add-device", vmAddDevice, &info)
	return info, resp, err
}

// VmAddDiskPut adds a new disk to the VM.
func (a *DefaultApiService) VmAddDiskPut(ctx context.Context, diskConfig DiskConfig) (PciDeviceInfo, *http.Response, error) {
	var info PciDeviceInfo
	resp, err := a.do(ctx, http.MethodPut, "/vm.add-disk", diskConfig, &info)
	return info, resp, err
}

// VmAddNetPut adds a new network device to the VM.
func (a *DefaultApiService) VmAddNetPut(ctx context.Context, netConfig NetConfig) (PciDeviceInfo, *http.Response, error) {
	var info PciDeviceInfo
	resp, err := a.do(ctx, http.MethodPut, "/vm.add-net", netConfig, &info)
	return info, resp, err
}

// VmRemoveDevicePut removes a device from the VM.
func (a *DefaultApiService) VmRemoveDevicePut(ctx context.Context, vmRemoveDevice VmRemoveDevice) (*http.Response, error) {
	return a.do(ctx, http.MethodPut, "/vm.remove-device", vmRemoveDevice, nil)
}
