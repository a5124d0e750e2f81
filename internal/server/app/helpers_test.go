package app

import (
	"encoding/json"

	"github.com/iudanet/jobsync/pkg/api"
)

func apiBatch(items ...string) api.BatchSyncRequest {
	req := api.BatchSyncRequest{DeviceID: "device-test"}
	for _, it := range items {
		req.Items = append(req.Items, json.RawMessage(it))
	}
	return req
}
