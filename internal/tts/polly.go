package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"

	"github.com/loqalabs/loqa-podcast/internal/audio"
	"github.com/loqalabs/loqa-podcast/internal/markup"
)

// Polly only emits raw PCM at 8 or 16 kHz.
const pollyPCMRate = 16000

type pollyAPI interface {
	SynthesizeSpeech(ctx context.Context, in *polly.SynthesizeSpeechInput, opts ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
	DescribeVoices(ctx context.Context, in *polly.DescribeVoicesInput, opts ...func(*polly.Options)) (*polly.DescribeVoicesOutput, error)
}

type pollyProvider struct {
	client pollyAPI
	engine types.Engine
}

// NewPollyProvider builds a Polly client from the default AWS credential
// chain. SDK-level retries are disabled; the synthesizer owns retry policy.
func NewPollyProvider(ctx context.Context, region, engine string) (Provider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := polly.NewFromConfig(awsCfg, func(o *polly.Options) {
		o.RetryMaxAttempts = 1
	})
	return newPollyProvider(client, engine), nil
}

func newPollyProvider(client pollyAPI, engine string) *pollyProvider {
	if engine == "" {
		engine = string(types.EngineNeural)
	}
	return &pollyProvider{client: client, engine: types.Engine(engine)}
}

func (p *pollyProvider) Name() string { return "polly" }

func (p *pollyProvider) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	input := &polly.SynthesizeSpeechInput{
		Text:     aws.String(req.Text),
		VoiceId:  types.VoiceId(req.Voice),
		Engine:   p.engine,
		TextType: types.TextTypeText,
	}
	if req.Dialect == markup.DialectSSML {
		input.TextType = types.TextTypeSsml
	}
	if req.Format == audio.FormatWAV {
		input.OutputFormat = types.OutputFormatPcm
		input.SampleRate = aws.String(strconv.Itoa(pollyPCMRate))
	} else {
		input.OutputFormat = types.OutputFormatMp3
		input.SampleRate = aws.String(mp3SampleRate(req.SampleRate))
	}

	out, err := p.client.SynthesizeSpeech(ctx, input)
	if err != nil {
		return nil, classifyPollyError(err)
	}
	defer out.AudioStream.Close()
	data, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return nil, fmt.Errorf("read polly stream: %w", err)
	}
	if req.Format == audio.FormatWAV {
		return audio.WAVFromPCM16(data, pollyPCMRate)
	}
	return data, nil
}

func (p *pollyProvider) Voices(ctx context.Context) ([]Voice, error) {
	out, err := p.client.DescribeVoices(ctx, &polly.DescribeVoicesInput{
		Engine:       p.engine,
		LanguageCode: types.LanguageCodeEnUs,
	})
	if err != nil {
		return nil, classifyPollyError(err)
	}
	voices := make([]Voice, 0, len(out.Voices))
	for _, v := range out.Voices {
		voice := Voice{
			ID:       string(v.Id),
			Name:     aws.ToString(v.Name),
			Gender:   string(v.Gender),
			Language: string(v.LanguageCode),
		}
		for _, e := range v.SupportedEngines {
			voice.Engines = append(voice.Engines, string(e))
		}
		voices = append(voices, voice)
	}
	return voices, nil
}

func (p *pollyProvider) Health(ctx context.Context) error {
	_, err := p.client.DescribeVoices(ctx, &polly.DescribeVoicesInput{
		Engine:       p.engine,
		LanguageCode: types.LanguageCodeEnUs,
	})
	if err != nil {
		return fmt.Errorf("polly health: %w", classifyPollyError(err))
	}
	return nil
}

func classifyPollyError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return rateLimited(err)
		}
	}
	return err
}

func mp3SampleRate(rate int) string {
	switch rate {
	case 8000, 16000, 22050, 24000:
		return strconv.Itoa(rate)
	}
	return "24000"
}
