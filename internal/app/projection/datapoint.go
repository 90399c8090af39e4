package projection

import (
	"time"

	"github.com/fledge-iot/fledge-north-opcua/internal/domain"
	"github.com/fledge-iot/fledge-north-opcua/internal/ports"
)

// addDatapoint creates the node(s) for one datapoint under parent. Store
// failures are logged and the datapoint is skipped.
func (e *Engine) addDatapoint(asset string, parent ports.NodeRef, field string, value domain.Value, ts time.Time) {
	switch v := value.(type) {
	case domain.Integer, domain.Float, domain.String, domain.FloatArray:
		ref, err := e.store.CreateVariable(parent, field, value)
		if err != nil {
			e.datapointFailed("datapoint_add_failed", asset, field, err)
			return
		}
		e.obs.IncCounter(ports.MetricNodesCreated, 1)
		if err := e.store.SetValue(ref, value, ts); err != nil {
			e.datapointFailed("datapoint_add_failed", asset, field, err)
		}
	case domain.Dict:
		// Container keys are asset qualified so assets sharing a field name
		// do not collide.
		child, err := e.store.CreateContainer(parent, asset+"_"+field, field)
		if err != nil {
			e.datapointFailed("datapoint_add_failed", asset, field, err)
			return
		}
		e.obs.IncCounter(ports.MetricNodesCreated, 1)
		for _, dp := range v {
			e.addDatapoint(asset, child, dp.Name, dp.Value, ts)
		}
	case nil:
		e.warnUnsupported(asset, field, domain.KindNull)
	default:
		e.warnUnsupported(asset, field, v.Kind())
	}
}

// updateDatapoint writes value into the existing node(s) named field under
// parent. When nothing matches and grow is set the field is created instead;
// nested dictionary entries are updated with grow unset, so update never adds
// structure below an existing container.
func (e *Engine) updateDatapoint(asset string, parent ports.NodeRef, field string, value domain.Value, ts time.Time, grow bool) {
	switch v := value.(type) {
	case domain.Integer, domain.Float, domain.String, domain.FloatArray:
		vars, err := e.store.ListChildVariables(parent)
		if err != nil {
			e.datapointFailed("datapoint_update_failed", asset, field, err)
			return
		}
		found := false
		for _, ref := range e.named(vars, field) {
			found = true
			if err := e.store.SetValue(ref, value, ts); err != nil {
				e.datapointFailed("datapoint_update_failed", asset, field, err)
			}
		}
		if !found && grow {
			e.addDatapoint(asset, parent, field, value, ts)
		}
	case domain.Dict:
		containers, err := e.store.ListChildContainers(parent)
		if err != nil {
			e.datapointFailed("datapoint_update_failed", asset, field, err)
			return
		}
		found := false
		for _, child := range e.named(containers, field) {
			found = true
			for _, dp := range v {
				e.updateDatapoint(asset, child, dp.Name, dp.Value, ts, false)
			}
		}
		if !found && grow {
			e.addDatapoint(asset, parent, field, value, ts)
		}
	case nil:
		e.warnUnsupported(asset, field, domain.KindNull)
	default:
		e.warnUnsupported(asset, field, v.Kind())
	}
}

// named filters refs down to those whose browse name is name. Nodes whose
// name cannot be read are skipped.
func (e *Engine) named(refs []ports.NodeRef, name string) []ports.NodeRef {
	var out []ports.NodeRef
	for _, ref := range refs {
		n, err := e.store.Name(ref)
		if err != nil {
			e.obs.LogDebug("node_name_failed", ports.F("node", ref.String()), ports.F("error", err.Error()))
			continue
		}
		if n == name {
			out = append(out, ref)
		}
	}
	return out
}

func (e *Engine) datapointFailed(event, asset, field string, err error) {
	e.obs.IncCounter(ports.MetricDatapointErrors, 1)
	e.obs.LogError(event, err, ports.F("asset", asset), ports.F("datapoint", field))
}
