// Package query builds the transform-and-insert request template and resolves
// what the target server is capable of.
package query

import (
	"strings"

	"github.com/mevdschee/tqpump/content"
)

// BatchMinVersion is the first server version with the batch entry point
const BatchMinVersion int64 = 9000030

// DefaultQueryVersion is sent as the default language version of a request
const DefaultQueryVersion = "1.0-ml"

// Capability is what the target server supports, resolved once from its
// effective version.
type Capability struct {
	Version int64
}

// NewCapability resolves the capability of a server version
func NewCapability(version int64) Capability {
	return Capability{Version: version}
}

// Batching reports whether several documents can be sent in one request
func (c Capability) Batching() bool {
	return c.Version >= BatchMinVersion
}

// Shape is the insert options wire shape the server expects
func (c Capability) Shape() content.Shape {
	if c.Batching() {
		return content.ShapeMap
	}
	return content.ShapeElement
}

// EffectiveBatchSize returns 1 when batching is unsupported
func (c Capability) EffectiveBatchSize(batchSize int) int {
	if !c.Batching() || batchSize < 1 {
		return 1
	}
	return batchSize
}

// Build returns the request template invoking the transform function with
// the URI, CONTENT and INSERT-OPTIONS external variables.
func Build(module, namespace, function, param string, c Capability) string {
	var q strings.Builder
	q.WriteString("xquery version \"1.0-ml\";\n")
	q.WriteString("import module namespace hadoop = \"http://marklogic.com")
	q.WriteString("/xdmp/hadoop\" at \"/MarkLogic/hadoop.xqy\";\n")
	q.WriteString("declare variable $URI as xs:string* external;\n")
	q.WriteString("declare variable $CONTENT as item()* external;\n")
	q.WriteString("declare variable $INSERT-OPTIONS as ")
	if c.Batching() {
		q.WriteString("map:map* external;\nhadoop:transform-insert-batch(\"")
	} else {
		q.WriteString("element() external;\nhadoop:transform-and-insert(\"")
	}
	q.WriteString(module)
	q.WriteString("\",\"")
	q.WriteString(namespace)
	q.WriteString("\",\"")
	q.WriteString(function)
	q.WriteString("\",\"")
	q.WriteString(strings.ReplaceAll(param, "\"", "\"\""))
	q.WriteString("\", $URI, $CONTENT, $INSERT-OPTIONS)")
	return q.String()
}
