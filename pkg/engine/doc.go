// Package engine is the entry point for applications embedding the memory
// engine.
//
// An Engine owns one vector client and one embedding adapter for its
// lifetime. Construct it with New, call Init once before serving requests
// and Close on shutdown:
//
//	eng, err := engine.New(ctx, cfg, engine.Deps{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//	if err := eng.Init(ctx); err != nil {
//	    return err
//	}
//
//	id, err := eng.RememberFact(ctx, "tenant-42", memory.Record{
//	    Type:      memory.TypeFact,
//	    KeyText:   "case_number",
//	    ValueText: "CR-2024-0099",
//	})
//
//	res, err := eng.Recall(ctx, "tenant-42", "what is the case number", nil)
//	// res.ContextText == "CASE FACTS:\n- case_number: CR-2024-0099"
//
// Every operation is scoped to the tenant it is given. Tenants never see
// each other's memories or document chunks.
package engine
