package providers

import (
	"context"
	"testing"

	"github.com/square-key-labs/strawgo-bridge/src/config"
	"github.com/square-key-labs/strawgo-bridge/src/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactoryBuildsPipelineBundle(t *testing.T) {
	cfg := config.Default().Providers
	cfg.Deepgram.APIKey = "dg"
	cfg.OpenAI.APIKey = "oa"
	cfg.ElevenLabs.APIKey = "el"

	b, err := NewFactory(cfg).NewBundle(context.Background())
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, "deepgram", b.ASR.Name())
	assert.Equal(t, "openai", b.Dialog.Name())
	_, ok := b.Streaming()
	assert.True(t, ok)
	_, ok = b.Duplex()
	assert.False(t, ok)
}

func TestFactoryMissingKey(t *testing.T) {
	cfg := config.Default().Providers
	cfg.ElevenLabs.APIKey = "el"

	_, err := NewFactory(cfg).NewBundle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrMissingCredential)
}

func TestFactoryMissingDialogKeyClosesASR(t *testing.T) {
	cfg := config.Default().Providers
	cfg.Deepgram.APIKey = "dg"
	cfg.ElevenLabs.APIKey = "el"

	var (
		b   *Bundle
		err error
	)
	require.NotPanics(t, func() {
		b, err = NewFactory(cfg).NewBundle(context.Background())
	})
	assert.Nil(t, b)
	assert.Equal(t, services.KindConfig, services.KindOf(err))
	assert.ErrorIs(t, err, services.ErrMissingCredential)
}

func TestBundleCloseSkipsMissingServices(t *testing.T) {
	var nilBundle *Bundle
	assert.NoError(t, nilBundle.Close())
	assert.NoError(t, (&Bundle{}).Close())
}

func TestFactoryUnknownProvider(t *testing.T) {
	cfg := config.Default().Providers
	cfg.TTS = "espeak"

	_, err := NewFactory(cfg).NewBundle(context.Background())
	assert.Equal(t, services.KindConfig, services.KindOf(err))
}

func TestFactoryDuplexSkipsASRAndDialog(t *testing.T) {
	cfg := config.Default().Providers
	cfg.TTS = "gemini-live"
	cfg.Google.APIKey = "g"

	f := NewFactory(cfg)
	assert.True(t, f.IsDuplex())

	b, err := f.NewBundle(context.Background())
	require.NoError(t, err)
	assert.Nil(t, b.ASR)
	assert.Nil(t, b.Dialog)
	_, ok := b.Duplex()
	assert.True(t, ok)
}
