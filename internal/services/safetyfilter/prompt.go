package safetyfilter

// Classification is the structured answer requested from the chat model.
type Classification struct {
	Child          bool     `json:"child"`
	SexualizeChild bool     `json:"sexualize_child"`
	Nudity         bool     `json:"nudity"`
	Sexual         bool     `json:"sexual"`
	Violence       bool     `json:"violence"`
	Disturbing     bool     `json:"disturbing"`
	Weapon         bool     `json:"weapon"`
	Celebrities    []string `json:"celebrities"`
}

const systemPrompt = `
	The user is giving you a prompt describing a single object that will be rendered as an image and then reconstructed as a 3D model.
	Evaluate the prompt for ethical concerns and return a JSON dict:
	{
		"child": (boolean),
		"sexualize_child": (boolean),
		"nudity": (boolean),
		"sexual": (boolean),
		"violence": (boolean),
		"disturbing": (boolean),
		"weapon": (boolean),
		"celebrities": string[]
	}

	Criteria:
	- "child": True if the object or figure would depict a child under the age of 16.
	- "sexualize_child": True if the prompt would sexualize children under the age of 16.
	- "nudity": True if the figure would be nude or 'uncovered'.
	- "sexual": True if the prompt asks for adult, pornographic or sexual content.
	- "violence": True only for extreme violence or gore.
	- "disturbing": True for content that is disturbing, such as mutilation or self-harm.
	- "weapon": True if the object is a real, functional firearm or explosive device, or a part of one.
	- "celebrities": Names of real, living people the figure would depict.
`
