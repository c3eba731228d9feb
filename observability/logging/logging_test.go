package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupRenamesKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := setup(&buf, "vestd", "test")
	logger.Info("reserved", "beneficiary", "vst1abc")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "reserved", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "vestd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")
	require.NotContains(t, line, "msg")
}

func TestMaskField(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("authorization", "Bearer abc").Value.String())
	require.Equal(t, "vst1abc", MaskField("beneficiary", "vst1abc").Value.String())
	require.Equal(t, "", MaskField("secret", "").Value.String())
}
