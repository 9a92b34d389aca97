package agent

import "log"

// New picks the model backend from configuration: LLM_AGENT=ollama selects
// the local Ollama server, the dummy API key selects the offline backend,
// anything else is the OpenAI vision API.
func New(backend, openAIKey, openAIModel, ollamaHost, visionModel string) (Agent, error) {
	switch backend {
	case "ollama":
		a := NewOllamaAgent(ollamaHost, visionModel)
		log.Printf("Using model backend %s", a.Name())
		return a, nil
	default:
		if openAIKey == DummyAPIKey {
			log.Printf("Using dummy model backend (no external calls)")
			return NewDummyAgent(), nil
		}
		a, err := NewOpenAIAgent(openAIKey, "", openAIModel)
		if err != nil {
			return nil, err
		}
		log.Printf("Using model backend %s", a.Name())
		return a, nil
	}
}
