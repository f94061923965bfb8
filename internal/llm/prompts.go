package llm

import (
	"fmt"
	"strings"

	"satcontracts/pkg/models"
)

// intentPrompt 意图路由提示词，回复被约束为三个关键词之一
const intentPrompt = `You are the intent router of an escrow contract assistant.
Read the conversation and classify the user's latest request.
Reply with exactly one word, nothing else:
- "escrow" if the user wants to create, pick or adapt an escrow smart contract
- "contribute" if the user is offering a contribution, report or submission to log
- "general" for anything else`

// selectorPromptHeader 模板选择提示词头部，模板列表在运行时拼接
const selectorPromptHeader = `You are the template selector of an escrow contract assistant.
Below is a numbered catalogue of escrow contract templates.
Pick the single template that best matches the user's request.
Reply with only the number of the template, or the word "unknown" if none fits.`

// adapterPrompt 模板改写提示词
const adapterPrompt = `You are a Solidity engineer. Adapt the following escrow contract
source to the user's request. Keep the contract compilable under solidity ^0.8.19,
keep the Deposited/PartySigned/Released/Refunded events unchanged, and reply with
only the full adapted Solidity source, no explanation.`

// generalPrompt 通用对话的助手角色设定
const generalPrompt = `You are SatContracts, a friendly assistant for blockchain escrow
contracts. You help users understand escrow arrangements, deployment, signing and
tracking. Answer concisely in the user's language.`

// contributionPrompt 贡献记录结构化提示词，要求回复单个JSON对象
const contributionPrompt = `You are the contribution intake of an escrow contract project.
Extract the contribution described in the conversation into a single JSON object
with exactly these fields:
{"contributor": "name or address", "kind": "code|docs|funds|other", "summary": "one line", "details": "full description"}
Reply with only the JSON object.`

// renderConversation 将历史消息和当前消息渲染为提示词尾部
func renderConversation(message string, history []models.Message) string {
	var b strings.Builder
	b.WriteString("\n\nConversation:\n")
	for _, msg := range history {
		b.WriteString(fmt.Sprintf("%s: %s\n", msg.Role, msg.Content))
	}
	b.WriteString(fmt.Sprintf("%s: %s\n", models.RoleUser, message))
	return b.String()
}

// renderTemplateList 渲染编号模板列表供选择器提示词使用
func renderTemplateList(summaries []models.TemplateSummary) string {
	var b strings.Builder
	b.WriteString("\n\nCatalogue:\n")
	for _, s := range summaries {
		b.WriteString(fmt.Sprintf("%d. %s (%s): %s\n", s.Index, s.Name, s.Category, s.Description))
	}
	return b.String()
}
