package resource

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/nlcore/zib-fhir/internal/platform/fhir"
)

// prepareBody checks the resource envelope of a create or update body and
// returns the JSON to store. For updates id must match the body id; for
// creates a client id is dropped. Server managed meta elements are removed
// and the default profile is added when the body declares none.
func prepareBody(def *Definition, body []byte, id string) ([]byte, error) {
	obj, err := decodeObject(body)
	if err != nil || obj == nil {
		return nil, fhir.NewError(http.StatusBadRequest, fhir.IssueTypeStructure, "request body must be a JSON object")
	}

	rt, _ := obj["resourceType"].(string)
	if rt != def.Type {
		return nil, fhir.ValidationError(fhir.ValidationIssue{
			Diagnostics: "resourceType " + strconv.Quote(rt) + " does not match endpoint " + def.Type,
			Expression:  "resourceType",
		})
	}

	if id == "" {
		delete(obj, "id")
	} else {
		bodyID, _ := obj["id"].(string)
		if bodyID == "" {
			return nil, fhir.ValidationError(fhir.ValidationIssue{
				Code:        fhir.IssueTypeRequired,
				Diagnostics: "resource id is required for update",
				Expression:  def.Type + ".id",
			})
		}
		if bodyID != id {
			return nil, fhir.ValidationError(fhir.ValidationIssue{
				Diagnostics: "resource id " + strconv.Quote(bodyID) + " does not match URL id " + strconv.Quote(id),
				Expression:  def.Type + ".id",
			})
		}
	}

	meta, _ := obj["meta"].(map[string]interface{})
	if meta == nil {
		meta = map[string]interface{}{}
	}
	delete(meta, "versionId")
	delete(meta, "lastUpdated")
	if profiles, _ := meta["profile"].([]interface{}); len(profiles) == 0 {
		if profile := defaultProfile(def, obj); profile != "" {
			meta["profile"] = []string{profile}
		}
	}
	if len(meta) == 0 {
		delete(obj, "meta")
	} else {
		obj["meta"] = meta
	}

	return json.Marshal(obj)
}

func defaultProfile(def *Definition, obj map[string]interface{}) string {
	if def.ProfileFor != nil {
		if p := def.ProfileFor(obj); p != "" {
			return p
		}
	}
	return def.Profile
}

// Stamp writes id, meta.versionId and meta.lastUpdated from the row into the
// stored JSON.
func Stamp(resource []byte, id string, versionID int, lastUpdated time.Time) ([]byte, error) {
	obj, err := decodeObject(resource)
	if err != nil {
		return nil, err
	}
	meta, _ := obj["meta"].(map[string]interface{})
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["versionId"] = strconv.Itoa(versionID)
	meta["lastUpdated"] = lastUpdated.UTC().Format(time.RFC3339Nano)
	obj["meta"] = meta
	obj["id"] = id
	return json.Marshal(obj)
}

// decodeObject keeps numbers as json.Number so decimals round-trip with
// their original precision.
func decodeObject(data []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	return obj, nil
}
