package session

import (
	"google.golang.org/genai"
)

// serializedContent is one conversation turn in its on-disk form.
type serializedContent struct {
	Role  string           `json:"role"`
	Parts []serializedPart `json:"parts"`
}

// serializedPart is a typed content part. Type is one of "text",
// "inline_data", "function_call" or "function_response".
type serializedPart struct {
	Type             string          `json:"type"`
	Text             string          `json:"text,omitempty"`
	MIMEType         string          `json:"mime_type,omitempty"`
	Data             []byte          `json:"data,omitempty"`
	FunctionCall     *serializedFunc `json:"function_call,omitempty"`
	FunctionResponse *serializedFunc `json:"function_response,omitempty"`
	Thought          bool            `json:"thought,omitempty"`
	ThoughtSignature []byte          `json:"thought_signature,omitempty"`
}

// serializedFunc carries a function call or response.
type serializedFunc struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Args     map[string]any `json:"args,omitempty"`
	Response map[string]any `json:"response,omitempty"`
}

func encodeContent(c *genai.Content) serializedContent {
	parts := make([]serializedPart, len(c.Parts))
	for i, p := range c.Parts {
		if p == nil {
			parts[i] = serializedPart{Type: "text", Text: " "}
			continue
		}
		parts[i] = encodePart(p)
	}
	return serializedContent{Role: string(c.Role), Parts: parts}
}

func encodePart(p *genai.Part) serializedPart {
	sp := serializedPart{
		Thought:          p.Thought,
		ThoughtSignature: p.ThoughtSignature,
	}

	switch {
	case p.FunctionCall != nil:
		sp.Type = "function_call"
		sp.FunctionCall = &serializedFunc{
			ID:   p.FunctionCall.ID,
			Name: p.FunctionCall.Name,
			Args: p.FunctionCall.Args,
		}
	case p.FunctionResponse != nil:
		sp.Type = "function_response"
		sp.FunctionResponse = &serializedFunc{
			ID:       p.FunctionResponse.ID,
			Name:     p.FunctionResponse.Name,
			Response: p.FunctionResponse.Response,
		}
	case p.InlineData != nil:
		sp.Type = "inline_data"
		sp.MIMEType = p.InlineData.MIMEType
		sp.Data = p.InlineData.Data
	default:
		sp.Type = "text"
		// A bare empty part would be rejected on resend; keep a space.
		if p.Text != "" {
			sp.Text = p.Text
		} else {
			sp.Text = " "
		}
	}
	return sp
}

func decodeContent(sc serializedContent) *genai.Content {
	parts := make([]*genai.Part, len(sc.Parts))
	for i, sp := range sc.Parts {
		parts[i] = decodePart(sp)
	}
	return &genai.Content{Role: sc.Role, Parts: parts}
}

func decodePart(sp serializedPart) *genai.Part {
	var part *genai.Part

	switch sp.Type {
	case "function_call":
		if sp.FunctionCall == nil {
			part = genai.NewPartFromText(" ")
			break
		}
		part = &genai.Part{FunctionCall: &genai.FunctionCall{
			ID:   sp.FunctionCall.ID,
			Name: sp.FunctionCall.Name,
			Args: sp.FunctionCall.Args,
		}}
	case "function_response":
		if sp.FunctionResponse == nil {
			part = genai.NewPartFromText(" ")
			break
		}
		part = genai.NewPartFromFunctionResponse(sp.FunctionResponse.Name, sp.FunctionResponse.Response)
		part.FunctionResponse.ID = sp.FunctionResponse.ID
	case "inline_data":
		part = &genai.Part{InlineData: &genai.Blob{MIMEType: sp.MIMEType, Data: sp.Data}}
	default:
		text := sp.Text
		if text == "" {
			text = " "
		}
		part = genai.NewPartFromText(text)
	}

	part.Thought = sp.Thought
	part.ThoughtSignature = sp.ThoughtSignature
	return part
}
