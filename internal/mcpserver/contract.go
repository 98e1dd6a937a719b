package mcpserver

// OperatorGuide explains the ReliefNet vocabulary and the command rules to
// LLM consumers before they act on the network.
const OperatorGuide = `# ReliefNet Operator Guide

ReliefNet links relief nodes to one hub over a low-bandwidth radio link.
End users connect to a node's local portal; the operator talks to the hub only.

## Vocabulary

- **Node**: a relief site, identified as ` + "`D1`, `D2`, ..." + ` in order of first contact with the hub.
- **User id**: ` + "`<node>-<6 hex>`" + `, e.g. ` + "`D1-4F2A9C`" + `. The prefix is the node the user first joined.
- **Service code**: short upper-case code such as ` + "`FOOD`, `WATER`, `MEDICAL`, `SHELTER`" + `.
- **Volunteer**: a user who registered as *offering* a service. Requesters only ask.

## Commands

- ` + "`send_command`" + ` with ` + "`to`" + ` set to a node id reaches that node only; ` + "`all`" + ` (or empty) reaches every active node.
- Unknown node ids are ignored silently by the hub.
- Text is limited to 179 bytes; longer text is rejected.
- ` + "`set_ticker`" + ` replaces the banner shown on every node portal. An empty message clears it.

## Delivery

The radio link has no acknowledgement. A command that was accepted by the hub may still be lost;
check ` + "`list_nodes`" + ` for nodes marked inactive before relying on delivery.
`
