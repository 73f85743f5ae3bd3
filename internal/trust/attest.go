package trust

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"ecoswarm/internal/types"
)

// HashSensorData computes the canonical hash of a sensor-data payload.
// JSON marshaling sorts map keys, so the hash is stable across runs.
func HashSensorData(data map[string]any) string {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = []byte("{}")
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Attest records an integrity proof on the agent: the hash of the sensor
// data it observed for the given experiment. Evaluation later compares
// supplied sensor data against the most recent attestation.
func Attest(agent *types.Agent, experimentID string, sensorData map[string]any) types.Attestation {
	att := types.Attestation{
		ExperimentID: experimentID,
		Hash:         HashSensorData(sensorData),
		CreatedAt:    time.Now(),
	}
	agent.Attestations = append(agent.Attestations, att)
	return att
}
