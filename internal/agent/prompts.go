package agent

// rewritePrompt asks the model to resolve references against the
// conversation and split complex questions. The two placeholders are
// the formatted history and the current question.
const rewritePrompt = `You are a query analysis expert.

Given the conversation history and current question, analyze and rewrite the query if needed.

Conversation History:
%s

Current Question:
%s

Rules:
1. If the question contains ambiguous references (e.g., "it", "that", "this"), resolve them using conversation history
2. If the question is complex, split it into up to 3 sub-questions
3. If the question is already clear and simple, return it as-is
4. Always respond in the SAME LANGUAGE as the original question

Response Format (JSON only, no markdown):
{
    "is_clear": true/false,
    "rewritten_queries": ["query1", "query2", ...],
    "clarification_needed": "what clarification is needed, or null if not needed"
}`

// broadenPrompt rewrites a query that retrieved poorly into a more
// general one. The placeholder is the failing query.
const broadenPrompt = `The following search query did not find good results.
Please rewrite it to be broader and more likely to find relevant documents.
Keep the core meaning but use more general terms or synonyms.
Respond with ONLY the rewritten query, nothing else.

Original query: %s

Rewritten query:`
