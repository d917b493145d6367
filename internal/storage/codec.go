package storage

import (
	"encoding/json"
	"errors"

	"axonbatch/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

func currentVersion() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeFiberResult(r model.FiberResult) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeFiberResult(data []byte) (model.FiberResult, error) {
	var result model.FiberResult
	if err := json.Unmarshal(data, &result); err != nil {
		return model.FiberResult{}, err
	}
	if err := checkVersion(result.VersionedRecord); err != nil {
		return model.FiberResult{}, err
	}
	return result, nil
}

func EncodeRun(r model.RunRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
