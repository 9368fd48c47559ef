package envfile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_PlainPairs(t *testing.T) {
	input := "INPUT_S3=s3://notes-in/batch.csv\nTHRESHOLD=0.95\n"

	env, secrets, skipped, err := Parse(strings.NewReader(input), "")
	require.NoError(t, err)

	assert.Equal(t, []Pair{
		{Name: "INPUT_S3", Value: "s3://notes-in/batch.csv"},
		{Name: "THRESHOLD", Value: "0.95"},
	}, env)
	assert.Empty(t, secrets)
	assert.Empty(t, skipped)
}

func TestParse_CommentsAndBlankLines(t *testing.T) {
	input := "# worker settings\n\nEMAIL_TO=oncall@example.com\n   \n# trailing comment\n"

	env, _, skipped, err := Parse(strings.NewReader(input), "")
	require.NoError(t, err)

	assert.Len(t, env, 1)
	assert.Empty(t, skipped)
}

func TestParse_ExportPrefixStripped(t *testing.T) {
	env, _, _, err := Parse(strings.NewReader("export EMAIL_FROM=reports@example.com\n"), "")
	require.NoError(t, err)

	require.Len(t, env, 1)
	assert.Equal(t, Pair{Name: "EMAIL_FROM", Value: "reports@example.com"}, env[0])
}

func TestParse_QuotedValues(t *testing.T) {
	input := "A=\"quoted value\"\nB='single'\nC=\"unbalanced\n"

	env, _, _, err := Parse(strings.NewReader(input), "")
	require.NoError(t, err)

	assert.Equal(t, "quoted value", env[0].Value)
	assert.Equal(t, "single", env[1].Value)
	assert.Equal(t, "\"unbalanced", env[2].Value)
}

func TestParse_SplitsOnFirstEquals(t *testing.T) {
	env, _, _, err := Parse(strings.NewReader("CONN=host=db;port=5432\n"), "")
	require.NoError(t, err)

	require.Len(t, env, 1)
	assert.Equal(t, "host=db;port=5432", env[0].Value)
}

func TestParse_InvalidLineSkippedWithPosition(t *testing.T) {
	input := "GOOD=1\nthis line has no equals\nALSO_GOOD=2\n"

	env, _, skipped, err := Parse(strings.NewReader(input), "")
	require.NoError(t, err)

	assert.Len(t, env, 2)
	require.Len(t, skipped, 1)
	assert.Equal(t, 2, skipped[0].Number)
	assert.Equal(t, "this line has no equals", skipped[0].Text)
}

func TestParse_SecretPrefixRouting(t *testing.T) {
	input := "INPUT_S3=s3://notes-in/batch.csv\n" +
		"SECRET_OPENAI_API_KEY=arn:aws:secretsmanager:us-east-1:123456789012:secret:openai/api-key-AbCdEf\n"

	env, secrets, _, err := Parse(strings.NewReader(input), "SECRET_")
	require.NoError(t, err)

	require.Len(t, env, 1)
	assert.Equal(t, "INPUT_S3", env[0].Name)

	require.Len(t, secrets, 1)
	assert.Equal(t, "SECRET_OPENAI_API_KEY", secrets[0].Name)
	assert.True(t, strings.HasPrefix(secrets[0].Value, "arn:aws:secretsmanager:"))
}

func TestParse_NoSecretPrefixMeansNoSecrets(t *testing.T) {
	input := "SECRET_KEY=arn:aws:secretsmanager:us-east-1:123456789012:secret:x\n"

	env, secrets, _, err := Parse(strings.NewReader(input), "")
	require.NoError(t, err)

	assert.Len(t, env, 1)
	assert.Empty(t, secrets)
}
