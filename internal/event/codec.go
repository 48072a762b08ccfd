package event

import (
	"encoding/json"
	"fmt"
)

// Marshal encodes an event to its wire form, injecting the eventType
// discriminator. Unknown concrete types are an error rather than a silent
// fallback so that adding a new event type forces this switch to be updated.
func Marshal(e Event) ([]byte, error) {
	type tagged struct {
		EventType Type `json:"eventType"`
	}

	switch v := e.(type) {
	case *AppSession:
		return Marshal(*v)
	case *AppTap:
		return Marshal(*v)
	case *Intervention:
		return Marshal(*v)
	case *DeviceStatus:
		return Marshal(*v)
	case *DailySummary:
		return Marshal(*v)
	case AppSession:
		return json.Marshal(struct {
			tagged
			AppSession
		}{tagged{TypeAppSession}, v})
	case AppTap:
		return json.Marshal(struct {
			tagged
			AppTap
		}{tagged{TypeAppTap}, v})
	case Intervention:
		return json.Marshal(struct {
			tagged
			Intervention
		}{tagged{TypeIntervention}, v})
	case DeviceStatus:
		return json.Marshal(struct {
			tagged
			DeviceStatus
		}{tagged{TypeDeviceStatus}, v})
	case DailySummary:
		return json.Marshal(struct {
			tagged
			DailySummary
		}{tagged{TypeDailySummary}, v})
	default:
		return nil, fmt.Errorf("event: cannot marshal unknown type %T", e)
	}
}

// Unmarshal decodes a wire-form event by its eventType discriminator.
// A missing or unrecognized discriminator is a permanent decode error; the
// caller is expected to drop the payload rather than retry it.
func Unmarshal(data []byte) (Event, error) {
	var head struct {
		EventType Type `json:"eventType"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("event: decode envelope: %w", err)
	}

	switch head.EventType {
	case TypeAppSession:
		var e AppSession
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("event: decode %s: %w", head.EventType, err)
		}
		return e, nil
	case TypeAppTap:
		var e AppTap
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("event: decode %s: %w", head.EventType, err)
		}
		return e, nil
	case TypeIntervention:
		var e Intervention
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("event: decode %s: %w", head.EventType, err)
		}
		return e, nil
	case TypeDeviceStatus:
		var e DeviceStatus
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("event: decode %s: %w", head.EventType, err)
		}
		return e, nil
	case TypeDailySummary:
		var e DailySummary
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("event: decode %s: %w", head.EventType, err)
		}
		return e, nil
	case "":
		return nil, fmt.Errorf("event: missing eventType discriminator")
	default:
		return nil, fmt.Errorf("event: unknown eventType %q", head.EventType)
	}
}
