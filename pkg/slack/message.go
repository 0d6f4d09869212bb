package slack

import (
	"fmt"

	goslack "github.com/slack-go/slack"
)

const maxBlockTextLength = 2900

// BuildResponseMessage creates Block Kit blocks for an agent's reply to a
// Slack-originated request.
func BuildResponseMessage(session, response, dashboardURL string) []goslack.Block {
	header := fmt.Sprintf(":robot_face: *Reply from `%s`*", session)

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, header, false, false),
			nil, nil,
		),
	}
	if response != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(response), false, false),
			nil, nil,
		))
	}
	if dashboardURL != "" {
		btn := goslack.NewButtonBlockElement("", "",
			goslack.NewTextBlockObject(goslack.PlainTextType, "Open Terminal", false, false))
		btn.URL = fmt.Sprintf("%s/terminals/%s", dashboardURL, session)
		blocks = append(blocks, goslack.NewActionBlock("", btn))
	}
	return blocks
}

// BuildAgentDownMessage creates Block Kit blocks announcing that an agent
// session died or failed to start.
func BuildAgentDownMessage(session, errMsg, dashboardURL string) []goslack.Block {
	text := fmt.Sprintf(":x: *Agent `%s` is down*", session)
	if errMsg != "" {
		text += fmt.Sprintf("\n\n*Error:*\n%s", truncateForSlack(errMsg))
	}

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
	if dashboardURL != "" {
		btn := goslack.NewButtonBlockElement("", "",
			goslack.NewTextBlockObject(goslack.PlainTextType, "View Teams", false, false))
		btn.URL = dashboardURL + "/teams"
		blocks = append(blocks, goslack.NewActionBlock("", btn))
	}
	return blocks
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated, open the dashboard for the full output)_"
}
