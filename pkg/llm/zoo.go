package llm

// Built-in model families. Registration happens at package load; the
// registry stays open for callers to contribute their own families.

func init() {
	builtins := []Family{
		{
			Name:         "llama",
			DefaultModel: "TheBloke/Llama-2-7B-Chat-GGUF",
			Variants: []string{
				"TheBloke/Llama-2-7B-Chat-GGUF",
				"TheBloke/Llama-2-13B-Chat-GGUF",
				"meta-llama/Llama-2-7b-chat-hf",
				"meta-llama/Llama-2-13b-chat-hf",
			},
			Config: FamilyConfig{
				ContextSize: 4096,
				GenerationDefaults: GenerationParams{
					MaxNewTokens: 256,
					Temperature:  0.6,
					TopP:         0.9,
				},
			},
			// Chat checkpoints ship in many quantizations; default to the
			// balanced one.
			ImportParams: map[string]any{"quantization": "q4_k_m"},
		},
		{
			Name:         "flan-t5",
			DefaultModel: "google/flan-t5-large",
			Variants: []string{
				"google/flan-t5-small",
				"google/flan-t5-base",
				"google/flan-t5-large",
				"google/flan-t5-xl",
				"google/flan-t5-xxl",
			},
			Config: FamilyConfig{
				ContextSize: 512,
				GenerationDefaults: GenerationParams{
					MaxNewTokens: 2048,
					Temperature:  0.9,
					TopP:         0.4,
				},
			},
		},
		{
			Name:         "dolly-v2",
			DefaultModel: "databricks/dolly-v2-3b",
			Variants: []string{
				"databricks/dolly-v2-3b",
				"databricks/dolly-v2-7b",
				"databricks/dolly-v2-12b",
			},
			Config: FamilyConfig{
				TrustRemoteCode: true,
				ContextSize:     2048,
				GenerationDefaults: GenerationParams{
					MaxNewTokens: 256,
					Temperature:  0.75,
					TopP:         0.92,
				},
			},
			// Dolly's instruction pipeline wants left padding.
			ImportParams: map[string]any{
				TokenizerParamPrefix + "padding_side": "left",
				"torch_dtype":                         "bfloat16",
			},
		},
		{
			Name:         "chatglm",
			DefaultModel: "thudm/chatglm-6b",
			Variants: []string{
				"thudm/chatglm-6b",
				"thudm/chatglm-6b-int8",
				"thudm/chatglm-6b-int4",
				"thudm/chatglm2-6b",
			},
			Config: FamilyConfig{
				TrustRemoteCode: true,
				ContextSize:     2048,
				GenerationDefaults: GenerationParams{
					MaxNewTokens: 2048,
					Temperature:  0.95,
					TopP:         0.7,
				},
			},
		},
		{
			Name:         "falcon",
			DefaultModel: "tiiuae/falcon-7b",
			Variants: []string{
				"tiiuae/falcon-7b",
				"tiiuae/falcon-40b",
				"tiiuae/falcon-7b-instruct",
				"tiiuae/falcon-40b-instruct",
			},
			Config: FamilyConfig{
				TrustRemoteCode: true,
				ContextSize:     2048,
				GenerationDefaults: GenerationParams{
					MaxNewTokens: 200,
					Temperature:  0.7,
					TopP:         0.9,
				},
			},
		},
		{
			Name:         "starcoder",
			DefaultModel: "bigcode/starcoder",
			Variants: []string{
				"bigcode/starcoder",
				"bigcode/starcoderbase",
			},
			Config: FamilyConfig{
				ContextSize: 8192,
				GenerationDefaults: GenerationParams{
					MaxNewTokens: 256,
					Temperature:  0.2,
					TopP:         0.95,
				},
			},
		},
	}
	for _, family := range builtins {
		if err := Register(family); err != nil {
			panic(err)
		}
	}
}
